// Package fund settles the currency side of a trade: locally in one pass, or
// across chains through either the currency's native omnichain send or the
// external swap-pool adapter. All fee math is integer basis-point arithmetic
// truncating toward zero.
package fund

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/omnidex/internal/bridge"
	"github.com/Aidin1998/omnidex/internal/currency"
	"github.com/Aidin1998/omnidex/internal/ledger"
	"github.com/Aidin1998/omnidex/pkg/errors"
)

// SwapPool is the external AMM adapter used to bridge currencies without
// native omnichain support. It escrows the source amount; the quoted native
// fee pays for its messaging.
type SwapPool interface {
	QuoteFee(srcPoolID uint64, dstChainID uint16, dstPoolID uint64) (*big.Int, error)
	Swap(ctx context.Context, srcPoolID uint64, dstChainID uint16, dstPoolID uint64, from common.Address, amount, minAmountOut *big.Int, to common.Address) error
}

// PoolRoute names the pool pair bridging one currency to one chain.
type PoolRoute struct {
	SrcPoolID uint64
	DstPoolID uint64
}

// SettleParams describes one currency leg.
type SettleParams struct {
	Currency common.Address
	From     common.Address
	To       common.Address
	// Amount is the full trade price; fees come out of it.
	Amount *big.Int

	ProtocolFeeAmount    *big.Int
	ProtocolFeeRecipient common.Address
	RoyaltyAmount        *big.Int
	RoyaltyRecipient     common.Address
	// MinPercentageToAsk is the maker's slippage floor in basis points.
	MinPercentageToAsk uint64

	DstChainID uint16
	TradeID    string
	Refund     common.Address
	// NativeBudget is the native value available for bridging fees; nil
	// means zero.
	NativeBudget *big.Int
}

// Manager executes currency settlement for one chain instance.
type Manager struct {
	addr          common.Address
	currencies    *currency.Manager
	ledgers       *ledger.Registry
	pool          SwapPool
	poolAccount   common.Address
	router        *bridge.Router
	airdropAmount *big.Int
	localChainID  uint16
	logger        *zap.Logger

	mu     sync.RWMutex
	routes map[common.Address]map[uint16]PoolRoute
}

// NewManager wires the fund manager. addr is the manager's identity that
// payers approve on the currency ledger; airdropAmount is the destination
// gas bundled with native omnichain sends.
func NewManager(addr common.Address, currencies *currency.Manager, ledgers *ledger.Registry, pool SwapPool, poolAccount common.Address, router *bridge.Router, airdropAmount *big.Int, logger *zap.Logger) *Manager {
	if airdropAmount == nil {
		airdropAmount = new(big.Int)
	}
	return &Manager{
		addr:          addr,
		currencies:    currencies,
		ledgers:       ledgers,
		pool:          pool,
		poolAccount:   poolAccount,
		router:        router,
		airdropAmount: airdropAmount,
		localChainID:  router.LocalChainID(),
		logger:        logger.Named("fund"),
		routes:        make(map[common.Address]map[uint16]PoolRoute),
	}
}

// Address is the fund manager's identity; payers approve it as spender.
func (m *Manager) Address() common.Address { return m.addr }

// RegisterPoolRoute configures the swap-pool pair bridging a currency to a
// chain. Operator-set, like remote bindings.
func (m *Manager) RegisterPoolRoute(cur common.Address, dstChainID uint16, route PoolRoute) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.routes[cur] == nil {
		m.routes[cur] = make(map[uint16]PoolRoute)
	}
	m.routes[cur][dstChainID] = route
}

func (m *Manager) routeFor(cur common.Address, dstChainID uint16) (PoolRoute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if routes, ok := m.routes[cur]; ok {
		if route, ok := routes[dstChainID]; ok {
			return route, nil
		}
	}
	return PoolRoute{}, errors.NewWithKind(errors.KindRemoteBindingMissing).
		Explain("no pool route for %s to chain %d", cur.Hex(), dstChainID)
}

// netAmount applies the fee split and slippage floor. protocolFee + royalty
// above the price is pathological configuration and reverts the trade.
func netAmount(p SettleParams) (*big.Int, error) {
	fees := new(big.Int).Add(p.ProtocolFeeAmount, p.RoyaltyAmount)
	if fees.Cmp(p.Amount) > 0 {
		return nil, errors.NewWithKind(errors.KindFeesExceedPrice).
			Explain("fees %s exceed price %s", fees, p.Amount)
	}
	net := new(big.Int).Sub(p.Amount, fees)

	// Slippage floor: the maker must receive at least minPercentageToAsk of
	// the price.
	floor := decimal.NewFromBigInt(p.Amount, 0).
		Mul(decimal.NewFromInt(int64(p.MinPercentageToAsk))).
		Div(decimal.NewFromInt(10000)).
		Floor()
	if decimal.NewFromBigInt(net, 0).LessThan(floor) {
		return nil, errors.Validation("net payout %s below slippage floor %s bps of %s", net, floor, p.Amount)
	}
	return net, nil
}

// Preflight runs every check Settle would run before moving a balance:
// whitelist, ledger registration, fee math, slippage floor, allowance and
// balance. A leg that passes Preflight only fails in Settle on a transport
// error.
func (m *Manager) Preflight(p SettleParams) error {
	if !m.currencies.IsWhitelisted(p.Currency) {
		return errors.NewWithKind(errors.KindCurrencyNotWhitelisted).
			Explain("currency %s not whitelisted", p.Currency.Hex())
	}
	fungible, err := m.ledgers.Fungible(p.Currency)
	if err != nil {
		return err
	}
	if _, err := netAmount(p); err != nil {
		return err
	}
	if p.From != m.addr {
		if fungible.Allowance(p.From, m.addr).Cmp(p.Amount) < 0 {
			return errors.NewWithKind(errors.KindTransferRejected).
				Explain("%s has not approved fund manager for %s", p.From.Hex(), p.Amount)
		}
		if fungible.BalanceOf(p.From).Cmp(p.Amount) < 0 {
			return errors.NewWithKind(errors.KindTransferRejected).
				Explain("%s balance below price %s", p.From.Hex(), p.Amount)
		}
	}
	return nil
}

// EstimateFee quotes the native fee the currency leg will charge.
func (m *Manager) EstimateFee(p SettleParams) (*big.Int, error) {
	if p.DstChainID == 0 || p.DstChainID == m.localChainID {
		return new(big.Int), nil
	}

	fungible, err := m.ledgers.Fungible(p.Currency)
	if err != nil {
		return nil, err
	}
	net, err := netAmount(p)
	if err != nil {
		return nil, err
	}

	if _, ok := fungible.(ledger.BridgeableFungible); ok {
		remoteCurrency, err := m.router.RemoteAssetOf(bridge.BindCurrency, p.Currency, p.DstChainID)
		if err != nil {
			return nil, err
		}
		payload := bridge.Payload{
			Leg:     bridge.LegCurrency,
			TradeID: p.TradeID,
			Asset:   remoteCurrency,
			To:      p.To,
			Amount:  net,
		}
		return m.router.EstimateLeg(p.DstChainID, payload, m.airdropAmount, p.To)
	}

	route, err := m.routeFor(p.Currency, p.DstChainID)
	if err != nil {
		return nil, err
	}
	poolFee, err := m.pool.QuoteFee(route.SrcPoolID, p.DstChainID, route.DstPoolID)
	if err != nil {
		return nil, err
	}
	remoteCurrency, err := m.router.RemoteAssetOf(bridge.BindCurrency, p.Currency, p.DstChainID)
	if err != nil {
		return nil, err
	}
	payload := bridge.Payload{
		Leg:     bridge.LegCurrency,
		TradeID: p.TradeID,
		Asset:   remoteCurrency,
		To:      p.To,
		Amount:  net,
	}
	legFee, err := m.router.EstimateLeg(p.DstChainID, payload, nil, common.Address{})
	if err != nil {
		return nil, err
	}
	return new(big.Int).Add(poolFee, legFee), nil
}

// Settle executes the currency leg and returns the native fee it consumed.
func (m *Manager) Settle(ctx context.Context, p SettleParams) (*big.Int, error) {
	// Safety net: the engine already checked, but no balance may ever move
	// against an unlisted currency.
	if !m.currencies.IsWhitelisted(p.Currency) {
		return nil, errors.NewWithKind(errors.KindCurrencyNotWhitelisted).
			Explain("currency %s not whitelisted", p.Currency.Hex())
	}

	fungible, err := m.ledgers.Fungible(p.Currency)
	if err != nil {
		return nil, err
	}
	net, err := netAmount(p)
	if err != nil {
		return nil, err
	}

	if fungible.Allowance(p.From, m.addr).Cmp(p.Amount) < 0 && p.From != m.addr {
		return nil, errors.NewWithKind(errors.KindTransferRejected).
			Explain("%s has not approved fund manager for %s", p.From.Hex(), p.Amount)
	}

	// The bridging fee is checked against the budget before any balance
	// moves. A short budget must be a pure rejection: the fee transfers
	// below are not unwound.
	if p.DstChainID != 0 && p.DstChainID != m.localChainID {
		fee, err := m.EstimateFee(p)
		if err != nil {
			return nil, err
		}
		if budget(p).Cmp(fee) < 0 {
			return nil, errors.NewWithKind(errors.KindInsufficientBridgeFee).
				Explain("bridge fee %s exceeds supplied %s", fee, budget(p))
		}
	}

	// Fees settle on the local chain in one pass, whatever the destination
	// of the net payout.
	if p.ProtocolFeeAmount.Sign() > 0 {
		if err := fungible.TransferFrom(m.addr, p.From, p.ProtocolFeeRecipient, p.ProtocolFeeAmount); err != nil {
			return nil, err
		}
	}
	if p.RoyaltyAmount.Sign() > 0 && (p.RoyaltyRecipient != common.Address{}) {
		if err := fungible.TransferFrom(m.addr, p.From, p.RoyaltyRecipient, p.RoyaltyAmount); err != nil {
			return nil, err
		}
	}

	if p.DstChainID == 0 || p.DstChainID == m.localChainID {
		if err := fungible.TransferFrom(m.addr, p.From, p.To, net); err != nil {
			return nil, err
		}
		return new(big.Int), nil
	}

	if bridgeable, ok := fungible.(ledger.BridgeableFungible); ok {
		return m.settleNative(ctx, p, bridgeable, net)
	}
	return m.settlePooled(ctx, p, fungible, net)
}

// settleNative uses the currency's own omnichain send: burn here, mint on
// delivery, with an airdrop covering destination gas.
func (m *Manager) settleNative(ctx context.Context, p SettleParams, fungible ledger.BridgeableFungible, net *big.Int) (*big.Int, error) {
	remoteCurrency, err := m.router.RemoteAssetOf(bridge.BindCurrency, p.Currency, p.DstChainID)
	if err != nil {
		return nil, err
	}
	payload := bridge.Payload{
		Leg:     bridge.LegCurrency,
		TradeID: p.TradeID,
		Asset:   remoteCurrency,
		To:      p.To,
		Amount:  net,
	}
	fee, err := m.router.EstimateLeg(p.DstChainID, payload, m.airdropAmount, p.To)
	if err != nil {
		return nil, err
	}
	if budget(p).Cmp(fee) < 0 {
		return nil, errors.NewWithKind(errors.KindInsufficientBridgeFee).
			Explain("native fee %s exceeds supplied %s", fee, budget(p))
	}

	// Pull into the manager, then burn: the source-chain balance decreases
	// immediately, the destination credit lands with the message.
	if err := fungible.TransferFrom(m.addr, p.From, m.addr, net); err != nil {
		return nil, err
	}
	if err := fungible.Burn(m.addr, net); err != nil {
		return nil, err
	}

	paid, err := m.router.SendLeg(ctx, p.DstChainID, payload, p.Refund, m.airdropAmount, p.To)
	if err != nil {
		fungible.Mint(p.From, net)
		return nil, err
	}
	return paid, nil
}

// settlePooled escrows into the swap pool and dispatches the currency leg;
// the pool's quoted fee must be covered by the supplied native value.
func (m *Manager) settlePooled(ctx context.Context, p SettleParams, fungible ledger.Fungible, net *big.Int) (*big.Int, error) {
	route, err := m.routeFor(p.Currency, p.DstChainID)
	if err != nil {
		return nil, err
	}
	poolFee, err := m.pool.QuoteFee(route.SrcPoolID, p.DstChainID, route.DstPoolID)
	if err != nil {
		return nil, err
	}

	remoteCurrency, err := m.router.RemoteAssetOf(bridge.BindCurrency, p.Currency, p.DstChainID)
	if err != nil {
		return nil, err
	}
	payload := bridge.Payload{
		Leg:     bridge.LegCurrency,
		TradeID: p.TradeID,
		Asset:   remoteCurrency,
		To:      p.To,
		Amount:  net,
	}
	legFee, err := m.router.EstimateLeg(p.DstChainID, payload, nil, common.Address{})
	if err != nil {
		return nil, err
	}

	required := new(big.Int).Add(poolFee, legFee)
	if budget(p).Cmp(required) < 0 {
		return nil, errors.NewWithKind(errors.KindInsufficientBridgeFee).
			Explain("bridge fee %s exceeds supplied %s", required, budget(p))
	}

	if err := fungible.TransferFrom(m.addr, p.From, m.poolAccount, net); err != nil {
		return nil, err
	}
	if err := m.pool.Swap(ctx, route.SrcPoolID, p.DstChainID, route.DstPoolID, p.From, net, net, p.To); err != nil {
		m.refundEscrow(fungible, p, net)
		return nil, err
	}

	if _, err := m.router.SendLeg(ctx, p.DstChainID, payload, p.Refund, nil, common.Address{}); err != nil {
		m.refundEscrow(fungible, p, net)
		return nil, err
	}
	m.logger.Info("currency leg escrowed to pool",
		zap.String("trade_id", p.TradeID),
		zap.Uint64("src_pool", route.SrcPoolID),
		zap.String("amount", net.String()))
	return required, nil
}

// refundEscrow returns a failed pool escrow to the payer. The pool account
// spends its own balance, so no allowance is involved.
func (m *Manager) refundEscrow(fungible ledger.Fungible, p SettleParams, net *big.Int) {
	if err := fungible.TransferFrom(m.poolAccount, m.poolAccount, p.From, net); err != nil {
		m.logger.Error("pool escrow refund failed",
			zap.String("trade_id", p.TradeID),
			zap.String("payer", p.From.Hex()),
			zap.Error(err))
	}
}

// ApplyInbound credits an inbound currency leg: mint for natively omnichain
// currencies, pool escrow release otherwise.
func (m *Manager) ApplyInbound(ctx context.Context, cur, to common.Address, amount *big.Int) error {
	fungible, err := m.ledgers.Fungible(cur)
	if err != nil {
		return err
	}
	if bridgeable, ok := fungible.(ledger.BridgeableFungible); ok {
		bridgeable.Mint(to, amount)
		return nil
	}
	// Plain currency: release from the destination-side pool escrow.
	return fungible.TransferFrom(m.poolAccount, m.poolAccount, to, amount)
}

func budget(p SettleParams) *big.Int {
	if p.NativeBudget == nil {
		return new(big.Int)
	}
	return p.NativeBudget
}
