// Package transfer executes the asset side of a trade. Each manager is a
// capability for one asset kind; the selector maps a collection address to
// the manager that can move it. Plain managers move custody on the local
// chain only; bridgeable managers burn locally and instruct the bound remote
// collection to mint.
package transfer

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Aidin1998/omnidex/internal/bridge"
	"github.com/Aidin1998/omnidex/internal/ledger"
	"github.com/Aidin1998/omnidex/pkg/errors"
)

// Request describes one asset-leg transfer.
type Request struct {
	From       common.Address
	To         common.Address
	Collection common.Address
	TokenID    *big.Int
	Amount     *big.Int
	// DstChainID routes the asset; zero or the local chain id keeps the
	// transfer local.
	DstChainID uint16
	TradeID    string
	Refund     common.Address
}

// Manager is the asset-custody capability for one asset kind.
type Manager interface {
	// Transfer moves the asset and returns the native bridging fee paid
	// (zero for a local move). Fails with TransferRejected when `from` has
	// not pre-authorized the manager.
	Transfer(ctx context.Context, req Request) (*big.Int, error)
	// Estimate quotes the native bridging fee for the request without
	// moving anything.
	Estimate(req Request) (*big.Int, error)
}

func isLocal(dstChainID, localChainID uint16) bool {
	return dstChainID == 0 || dstChainID == localChainID
}

// ERC721Manager moves unique tokens on the local chain.
type ERC721Manager struct {
	addr         common.Address
	ledgers      *ledger.Registry
	localChainID uint16
}

func NewERC721Manager(addr common.Address, ledgers *ledger.Registry, localChainID uint16) *ERC721Manager {
	return &ERC721Manager{addr: addr, ledgers: ledgers, localChainID: localChainID}
}

// Address is the manager's identity; owners approve it as operator.
func (m *ERC721Manager) Address() common.Address { return m.addr }

func (m *ERC721Manager) Transfer(ctx context.Context, req Request) (*big.Int, error) {
	if !isLocal(req.DstChainID, m.localChainID) {
		return nil, errors.NewWithKind(errors.KindTransferRejected).
			Explain("collection %s is not bridgeable", req.Collection.Hex())
	}
	nft, err := m.ledgers.NFT(req.Collection)
	if err != nil {
		return nil, err
	}
	if !nft.IsApprovedForAll(req.From, m.addr) {
		return nil, errors.NewWithKind(errors.KindTransferRejected).
			Explain("%s has not approved transfer manager", req.From.Hex())
	}
	if err := nft.SafeTransferFrom(m.addr, req.From, req.To, req.TokenID, big.NewInt(1)); err != nil {
		return nil, err
	}
	return new(big.Int), nil
}

func (m *ERC721Manager) Estimate(req Request) (*big.Int, error) {
	if !isLocal(req.DstChainID, m.localChainID) {
		return nil, errors.NewWithKind(errors.KindTransferRejected).
			Explain("collection %s is not bridgeable", req.Collection.Hex())
	}
	return new(big.Int), nil
}

// ERC1155Manager moves semi-fungible amounts on the local chain.
type ERC1155Manager struct {
	addr         common.Address
	ledgers      *ledger.Registry
	localChainID uint16
}

func NewERC1155Manager(addr common.Address, ledgers *ledger.Registry, localChainID uint16) *ERC1155Manager {
	return &ERC1155Manager{addr: addr, ledgers: ledgers, localChainID: localChainID}
}

func (m *ERC1155Manager) Address() common.Address { return m.addr }

func (m *ERC1155Manager) Transfer(ctx context.Context, req Request) (*big.Int, error) {
	if !isLocal(req.DstChainID, m.localChainID) {
		return nil, errors.NewWithKind(errors.KindTransferRejected).
			Explain("collection %s is not bridgeable", req.Collection.Hex())
	}
	nft, err := m.ledgers.NFT(req.Collection)
	if err != nil {
		return nil, err
	}
	if !nft.IsApprovedForAll(req.From, m.addr) {
		return nil, errors.NewWithKind(errors.KindTransferRejected).
			Explain("%s has not approved transfer manager", req.From.Hex())
	}
	if err := nft.SafeTransferFrom(m.addr, req.From, req.To, req.TokenID, req.Amount); err != nil {
		return nil, err
	}
	return new(big.Int), nil
}

func (m *ERC1155Manager) Estimate(req Request) (*big.Int, error) {
	if !isLocal(req.DstChainID, m.localChainID) {
		return nil, errors.NewWithKind(errors.KindTransferRejected).
			Explain("collection %s is not bridgeable", req.Collection.Hex())
	}
	return new(big.Int), nil
}

// BridgeableNFTManager routes natively-bridgeable collections. Local fills
// behave like the plain managers; cross-chain fills burn on this chain and
// dispatch an asset-leg instruction to the bound remote collection. Once the
// send is handed to the transport the local call has succeeded and the
// remote mint is pending.
type BridgeableNFTManager struct {
	addr         common.Address
	ledgers      *ledger.Registry
	router       *bridge.Router
	localChainID uint16
}

func NewBridgeableNFTManager(addr common.Address, ledgers *ledger.Registry, router *bridge.Router) *BridgeableNFTManager {
	return &BridgeableNFTManager{
		addr:         addr,
		ledgers:      ledgers,
		router:       router,
		localChainID: router.LocalChainID(),
	}
}

func (m *BridgeableNFTManager) Address() common.Address { return m.addr }

func (m *BridgeableNFTManager) bridgeable(collection common.Address) (ledger.BridgeableNFT, error) {
	nft, err := m.ledgers.NFT(collection)
	if err != nil {
		return nil, err
	}
	b, ok := nft.(ledger.BridgeableNFT)
	if !ok {
		return nil, errors.NewWithKind(errors.KindTransferRejected).
			Explain("collection %s does not support burn/mint bridging", collection.Hex())
	}
	return b, nil
}

func (m *BridgeableNFTManager) Transfer(ctx context.Context, req Request) (*big.Int, error) {
	nft, err := m.ledgers.NFT(req.Collection)
	if err != nil {
		return nil, err
	}
	if !nft.IsApprovedForAll(req.From, m.addr) {
		return nil, errors.NewWithKind(errors.KindTransferRejected).
			Explain("%s has not approved transfer manager", req.From.Hex())
	}

	amount := req.Amount
	if nft.Kind() == ledger.KindUnique {
		amount = big.NewInt(1)
	}

	if isLocal(req.DstChainID, m.localChainID) {
		if err := nft.SafeTransferFrom(m.addr, req.From, req.To, req.TokenID, amount); err != nil {
			return nil, err
		}
		return new(big.Int), nil
	}

	remoteCollection, err := m.router.RemoteAssetOf(bridge.BindCollection, req.Collection, req.DstChainID)
	if err != nil {
		return nil, err
	}

	b, err := m.bridgeable(req.Collection)
	if err != nil {
		return nil, err
	}
	if err := b.Burn(m.addr, req.From, req.TokenID, amount); err != nil {
		return nil, err
	}

	payload := bridge.Payload{
		Leg:     bridge.LegAsset,
		TradeID: req.TradeID,
		Asset:   remoteCollection,
		To:      req.To,
		TokenID: req.TokenID,
		Amount:  amount,
	}
	fee, err := m.router.SendLeg(ctx, req.DstChainID, payload, req.Refund, nil, common.Address{})
	if err != nil {
		// The burn already happened; a send failure here must abort the
		// whole trade, so restore custody before surfacing it.
		b.Mint(req.From, req.TokenID, amount)
		return nil, err
	}
	return fee, nil
}

func (m *BridgeableNFTManager) Estimate(req Request) (*big.Int, error) {
	if isLocal(req.DstChainID, m.localChainID) {
		return new(big.Int), nil
	}
	remoteCollection, err := m.router.RemoteAssetOf(bridge.BindCollection, req.Collection, req.DstChainID)
	if err != nil {
		return nil, err
	}
	payload := bridge.Payload{
		Leg:     bridge.LegAsset,
		TradeID: req.TradeID,
		Asset:   remoteCollection,
		To:      req.To,
		TokenID: req.TokenID,
		Amount:  req.Amount,
	}
	return m.router.EstimateLeg(req.DstChainID, payload, nil, common.Address{})
}
