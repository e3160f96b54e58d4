package bridge

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Router turns trade legs into packets addressed engine-to-engine. It
// resolves the operator-set bindings so maker-supplied addresses never decide
// where value lands.
type Router struct {
	endpoint     Endpoint
	bindings     *Bindings
	localChainID uint16
	localEngine  common.Address
	dstGasLimit  uint64
	logger       *zap.Logger
}

// NewRouter wires the router for one chain's engine.
func NewRouter(endpoint Endpoint, bindings *Bindings, localChainID uint16, localEngine common.Address, dstGasLimit uint64, logger *zap.Logger) *Router {
	return &Router{
		endpoint:     endpoint,
		bindings:     bindings,
		localChainID: localChainID,
		localEngine:  localEngine,
		dstGasLimit:  dstGasLimit,
		logger:       logger.Named("router"),
	}
}

// LocalChainID returns the chain this router sends from.
func (r *Router) LocalChainID() uint16 { return r.localChainID }

// LocalEngine returns the engine address packets originate from.
func (r *Router) LocalEngine() common.Address { return r.localEngine }

// Bindings exposes the binding store for admission checks and admin surfaces.
func (r *Router) Bindings() *Bindings { return r.bindings }

// RemoteAssetOf resolves the destination-side address bound to a local asset.
func (r *Router) RemoteAssetOf(kind BindingKind, local common.Address, dstChainID uint16) (common.Address, error) {
	return r.bindings.Lookup(kind, local, dstChainID)
}

// TrustedRemote returns the only address allowed to deliver inbound packets
// from srcChainID.
func (r *Router) TrustedRemote(srcChainID uint16) (common.Address, error) {
	return r.bindings.Lookup(BindEngine, r.localEngine, srcChainID)
}

func (r *Router) adapterParams(airdrop *big.Int, airdropTo common.Address) AdapterParams {
	return AdapterParams{
		DstGasLimit:   r.dstGasLimit,
		AirdropAmount: airdrop,
		AirdropTo:     airdropTo,
	}
}

// EstimateLeg quotes the native fee for sending the leg to dstChainID.
func (r *Router) EstimateLeg(dstChainID uint16, p Payload, airdrop *big.Int, airdropTo common.Address) (*big.Int, error) {
	data, err := p.Encode()
	if err != nil {
		return nil, err
	}
	native, _, err := r.endpoint.EstimateFees(dstChainID, r.localEngine, data, false, r.adapterParams(airdrop, airdropTo))
	return native, err
}

// SendLeg dispatches the leg to the remote engine bound for dstChainID and
// returns the native fee charged. Once this returns nil the local call has
// succeeded; the remote outcome is asynchronous.
func (r *Router) SendLeg(ctx context.Context, dstChainID uint16, p Payload, refund common.Address, airdrop *big.Int, airdropTo common.Address) (*big.Int, error) {
	remoteEngine, err := r.bindings.Lookup(BindEngine, r.localEngine, dstChainID)
	if err != nil {
		return nil, err
	}
	data, err := p.Encode()
	if err != nil {
		return nil, err
	}

	fee, err := r.endpoint.Send(ctx, dstChainID, remoteEngine, data, refund, common.Address{}, r.adapterParams(airdrop, airdropTo))
	if err != nil {
		return nil, err
	}
	r.logger.Info("leg dispatched",
		zap.String("leg", string(p.Leg)),
		zap.String("trade_id", p.TradeID),
		zap.Uint16("dst_chain", dstChainID),
		zap.String("fee", fee.String()))
	return fee, nil
}
