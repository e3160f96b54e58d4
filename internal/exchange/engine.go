// Package exchange is the settlement engine: it validates a maker/taker
// pair, resolves strategy, currency and transfer capabilities, computes the
// protocol, royalty and messaging fees, executes the local legs, and
// dispatches the cross-chain instructions for the remote legs.
//
// Every check runs before any balance-mutating call, so validation failures
// are pure rejections. Once a leg is handed to the transport the local call
// has succeeded; the asset and currency legs of a cross-chain trade are
// independently final and a stuck remote leg is an operator concern, not a
// caller-visible error.
package exchange

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Aidin1998/omnidex/internal/bridge"
	"github.com/Aidin1998/omnidex/internal/currency"
	"github.com/Aidin1998/omnidex/internal/execution"
	"github.com/Aidin1998/omnidex/internal/fund"
	"github.com/Aidin1998/omnidex/internal/order"
	"github.com/Aidin1998/omnidex/internal/royalty"
	"github.com/Aidin1998/omnidex/internal/transfer"
)

// LegJournal is the inbound idempotency record: a leg marked applied is never
// applied again. bridge.ProcessedLegStore is the durable implementation.
type LegJournal interface {
	Seen(srcChainID uint16, tradeID string, leg bridge.LegKind) (bool, error)
	Mark(srcChainID uint16, tradeID string, leg bridge.LegKind) error
}

// Engine orchestrates trade settlement for one chain instance.
type Engine struct {
	localChainID uint16
	address      common.Address
	domain       *order.Domain

	nonces     *order.NonceRegistry
	currencies *currency.Manager
	executions *execution.Manager
	royalties  *royalty.FeeManager
	selector   *transfer.Selector
	funds      *fund.Manager
	router     *bridge.Router
	processed  LegJournal

	protocolFeeRecipient common.Address
	clock                func() int64

	logger  *zap.Logger
	metrics *metrics
}

// Config wires an engine.
type Config struct {
	LocalChainID         uint16
	Address              common.Address
	ProtocolFeeRecipient common.Address

	Nonces     *order.NonceRegistry
	Currencies *currency.Manager
	Executions *execution.Manager
	Royalties  *royalty.FeeManager
	Selector   *transfer.Selector
	Funds      *fund.Manager
	Router     *bridge.Router
	Processed  LegJournal

	// Clock returns unix seconds; nil means wall clock. Tests pin it.
	Clock func() int64

	Logger *zap.Logger
}

// New builds the engine.
func New(cfg Config) *Engine {
	clock := cfg.Clock
	if clock == nil {
		clock = unixNow
	}
	return &Engine{
		localChainID:         cfg.LocalChainID,
		address:              cfg.Address,
		domain:               order.NewDomain(uint64(cfg.LocalChainID), cfg.Address),
		nonces:               cfg.Nonces,
		currencies:           cfg.Currencies,
		executions:           cfg.Executions,
		royalties:            cfg.Royalties,
		selector:             cfg.Selector,
		funds:                cfg.Funds,
		router:               cfg.Router,
		processed:            cfg.Processed,
		protocolFeeRecipient: cfg.ProtocolFeeRecipient,
		clock:                clock,
		logger:               cfg.Logger.Named("exchange"),
		metrics:              newMetrics(),
	}
}

// Address is the engine's on-chain identity and EIP-712 verifying contract.
func (e *Engine) Address() common.Address { return e.address }

// Domain is the local signing domain for maker orders.
func (e *Engine) Domain() *order.Domain { return e.domain }

// Options carries per-call inputs: the native value supplied for messaging
// and bridging fees.
type Options struct {
	Value *big.Int
}

func (o Options) value() *big.Int {
	if o.Value == nil {
		return new(big.Int)
	}
	return o.Value
}

// BatchOptions extends Options for batch fills.
type BatchOptions struct {
	Options
	// ContinueOnFailure skips failed pairs instead of aborting the batch.
	ContinueOnFailure bool
}

// Fees is a quoted fee triple for one trade: the asset-leg messaging fee,
// the currency-leg fee (pool fee included), and their sum. Local trades
// quote zero everywhere.
type Fees struct {
	AssetLegFee    *big.Int `json:"asset_leg_fee"`
	CurrencyLegFee *big.Int `json:"currency_leg_fee"`
	Total          *big.Int `json:"total"`
}

// Receipt reports a settled trade.
type Receipt struct {
	TradeID          string         `json:"trade_id"`
	TokenID          *big.Int       `json:"token_id"`
	Amount           *big.Int       `json:"amount"`
	Price            *big.Int       `json:"price"`
	ProtocolFee      *big.Int       `json:"protocol_fee"`
	RoyaltyFee       *big.Int       `json:"royalty_fee"`
	RoyaltyRecipient common.Address `json:"royalty_recipient"`
	Fees             Fees           `json:"fees"`
	CrossChain       bool           `json:"cross_chain"`
}

// CancelAllOrdersBelow raises the caller's nonce floor. Monotonic and
// idempotent; authentication of the caller is the transport's concern.
func (e *Engine) CancelAllOrdersBelow(signer common.Address, minValid uint64) error {
	if err := e.nonces.CancelAllBelow(signer, minValid); err != nil {
		return err
	}
	e.logger.Info("nonce floor raised", zap.String("signer", signer.Hex()), zap.Uint64("min_valid", minValid))
	return nil
}

// CancelOrders invalidates individual nonces for the caller.
func (e *Engine) CancelOrders(signer common.Address, nonces ...uint64) error {
	return e.nonces.Cancel(signer, nonces...)
}

// MinValidNonce reads the caller's current nonce floor.
func (e *Engine) MinValidNonce(signer common.Address) (uint64, error) {
	return e.nonces.MinValid(signer)
}
