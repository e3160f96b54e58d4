package exchange

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Aidin1998/omnidex/internal/bridge"
	"github.com/Aidin1998/omnidex/internal/execution"
	"github.com/Aidin1998/omnidex/internal/fund"
	"github.com/Aidin1998/omnidex/internal/order"
	"github.com/Aidin1998/omnidex/internal/transfer"
	"github.com/Aidin1998/omnidex/pkg/errors"
)

func unixNow() int64 { return time.Now().Unix() }

// trade is the fully resolved execution plan for one maker/taker pair. The
// prepare stage fills it without touching any balance; execute only moves
// value the plan already validated.
type trade struct {
	maker *order.MakerOrder
	taker *order.TakerOrder

	// cross routes one leg to dstChainID, the counterparty's chain.
	cross      bool
	dstChainID uint16

	// Local-side addresses. For a local trade these are the maker's signed
	// fields; for a cross-chain trade the maker's params name the
	// counterpart addresses on this chain.
	currency   common.Address
	collection common.Address

	strategy execution.Strategy
	tokenID  *big.Int
	amount   *big.Int
	price    *big.Int

	protocolFee      *big.Int
	royaltyFee       *big.Int
	royaltyRecipient common.Address
	// sellerMinBps is the asset seller's slippage floor, whichever side the
	// seller is on.
	sellerMinBps uint64

	tradeID string
	fees    Fees
}

// MatchAskWithTakerBid fills a maker sell order with the caller's bid. The
// taker pays on this chain; for a cross-chain maker the payment nets across
// and a pull instruction for the asset goes to the maker's chain.
func (e *Engine) MatchAskWithTakerBid(ctx context.Context, taker *order.TakerOrder, maker *order.MakerOrder, opts Options) (*Receipt, error) {
	if !maker.IsAsk || taker.IsAsk {
		return nil, errors.Validation("taker bid requires a maker ask")
	}
	t, err := e.prepare(maker, taker, true)
	if err != nil {
		e.metrics.failures.WithLabelValues(errors.KindOf(err)).Inc()
		return nil, err
	}
	receipt, err := e.executeTakerBid(ctx, t, opts)
	if err != nil {
		e.metrics.failures.WithLabelValues(errors.KindOf(err)).Inc()
		return nil, err
	}
	e.metrics.trades.WithLabelValues(tradeScope(t.cross), "taker_bid").Inc()
	return receipt, nil
}

// MatchBidWithTakerAsk fills a maker buy order with the caller's ask. The
// asset leaves the caller on this chain; for a cross-chain maker the payment
// is pulled on the maker's chain and the asset bridges there.
func (e *Engine) MatchBidWithTakerAsk(ctx context.Context, taker *order.TakerOrder, maker *order.MakerOrder, opts Options) (*Receipt, error) {
	if maker.IsAsk || !taker.IsAsk {
		return nil, errors.Validation("taker ask requires a maker bid")
	}
	t, err := e.prepare(maker, taker, false)
	if err != nil {
		e.metrics.failures.WithLabelValues(errors.KindOf(err)).Inc()
		return nil, err
	}
	receipt, err := e.executeTakerAsk(ctx, t, opts)
	if err != nil {
		e.metrics.failures.WithLabelValues(errors.KindOf(err)).Inc()
		return nil, err
	}
	e.metrics.trades.WithLabelValues(tradeScope(t.cross), "taker_ask").Inc()
	return receipt, nil
}

// QuoteFees prices the messaging and bridging cost of a fill without
// executing it. Local trades quote zero.
func (e *Engine) QuoteFees(taker *order.TakerOrder, maker *order.MakerOrder) (Fees, error) {
	t, err := e.prepare(maker, taker, !maker.IsAsk)
	if err != nil {
		return Fees{}, err
	}
	return t.fees, nil
}

// prepare validates the pair end to end and resolves the execution plan.
// Nothing is mutated; a nil error means every admission check passed and the
// leg fees are quoted.
func (e *Engine) prepare(maker *order.MakerOrder, taker *order.TakerOrder, takerIsBid bool) (*trade, error) {
	now := e.clock()
	if err := maker.Validate(now); err != nil {
		return nil, err
	}
	if err := taker.Validate(); err != nil {
		return nil, err
	}

	makerParams, err := order.DecodeParams(maker.Params)
	if err != nil {
		return nil, err
	}
	takerParams, err := order.DecodeParams(taker.Params)
	if err != nil {
		return nil, err
	}

	t := &trade{maker: maker, taker: taker, price: taker.Price}

	// The taker names the chain the maker signed on. A remote maker must in
	// turn have routed the order to this chain, or the intent does not cover
	// a fill here.
	t.cross = takerParams.IsCrossChain(e.localChainID)
	if t.cross {
		t.dstChainID = takerParams.DstChainID
		if makerParams.DstChainID != e.localChainID {
			return nil, errors.Validation("maker order routes to chain %d, not here", makerParams.DstChainID)
		}
		t.currency = makerParams.RemoteCurrency
		t.collection = makerParams.RemoteCollection
	} else {
		if makerParams.IsCrossChain(e.localChainID) {
			return nil, errors.Validation("maker order routes cross-chain, taker fill is local")
		}
		t.currency = maker.Currency
		t.collection = maker.Collection
	}

	domain := e.domain
	if t.cross {
		remoteEngine, err := e.router.TrustedRemote(t.dstChainID)
		if err != nil {
			return nil, err
		}
		domain = order.NewDomain(uint64(t.dstChainID), remoteEngine)
	}
	if err := order.Verify(domain, maker); err != nil {
		return nil, err
	}

	strategyAddr := maker.Strategy
	if t.cross {
		strategyAddr = makerParams.RemoteStrategy
	}
	strategy, err := e.executions.StrategyFor(strategyAddr)
	if err != nil {
		return nil, err
	}
	t.strategy = strategy

	if !e.currencies.IsWhitelisted(t.currency) {
		return nil, errors.NewWithKind(errors.KindCurrencyNotWhitelisted).
			Explain("currency %s not whitelisted", t.currency.Hex())
	}

	if err := e.nonces.IsUsable(maker.Signer, maker.Nonce); err != nil {
		return nil, err
	}

	var ok bool
	if takerIsBid {
		ok, t.tokenID, t.amount = strategy.CanExecuteTakerBid(maker, taker, now)
	} else {
		ok, t.tokenID, t.amount = strategy.CanExecuteTakerAsk(maker, taker, now)
	}
	if !ok {
		return nil, errors.NewWithKind(errors.KindStrategyExecutionFailed).
			Explain("strategy %s rejected the fill", strategyAddr.Hex())
	}

	t.protocolFee = bpsOf(t.price, strategy.ProtocolFeeBps())
	t.royaltyRecipient, t.royaltyFee, err = e.royalties.ComputeRoyalty(t.collection, t.price)
	if err != nil {
		return nil, err
	}
	if new(big.Int).Add(t.protocolFee, t.royaltyFee).Cmp(t.price) > 0 {
		return nil, errors.NewWithKind(errors.KindFeesExceedPrice).
			Explain("fees exceed price %s for collection %s", t.price, t.collection.Hex())
	}

	// The seller's payout floor. On a taker bid the maker sells; on a taker
	// ask the caller does.
	if takerIsBid {
		t.sellerMinBps = maker.MinPercentageToAsk
	} else {
		t.sellerMinBps = taker.MinPercentageToAsk
	}

	srcChain := e.localChainID
	t.tradeID = bridge.TradeRef(srcChain, maker.Signer, maker.Nonce)

	if err := e.quoteLegs(t, takerIsBid); err != nil {
		return nil, err
	}
	return t, nil
}

// quoteLegs fills t.fees. Binding lookups happen here, so execute never
// discovers a missing route after value moved.
func (e *Engine) quoteLegs(t *trade, takerIsBid bool) error {
	zero := new(big.Int)
	t.fees = Fees{AssetLegFee: zero, CurrencyLegFee: zero, Total: zero}
	if !t.cross {
		return nil
	}

	if takerIsBid {
		assetFee, err := e.router.EstimateLeg(t.dstChainID, e.pullAssetPayload(t), nil, common.Address{})
		if err != nil {
			return err
		}
		currencyFee, err := e.funds.EstimateFee(e.settleParams(t, nil))
		if err != nil {
			return err
		}
		t.fees = Fees{
			AssetLegFee:    assetFee,
			CurrencyLegFee: currencyFee,
			Total:          new(big.Int).Add(assetFee, currencyFee),
		}
		return nil
	}

	mgr, err := e.selector.ManagerFor(t.collection)
	if err != nil {
		return err
	}
	assetFee, err := mgr.Estimate(e.assetRequest(t))
	if err != nil {
		return err
	}
	currencyFee, err := e.router.EstimateLeg(t.dstChainID, e.pullCurrencyPayload(t), nil, common.Address{})
	if err != nil {
		return err
	}
	t.fees = Fees{
		AssetLegFee:    assetFee,
		CurrencyLegFee: currencyFee,
		Total:          new(big.Int).Add(assetFee, currencyFee),
	}
	return nil
}

// pullAssetPayload instructs the maker's chain to move the asset out of the
// maker's custody there. The addresses are already destination-side: the
// maker signed them on that chain.
func (e *Engine) pullAssetPayload(t *trade) bridge.Payload {
	return bridge.Payload{
		Leg:     bridge.LegAsset,
		TradeID: t.tradeID,
		Asset:   t.maker.Collection,
		From:    t.maker.Signer,
		To:      t.taker.Taker,
		TokenID: t.tokenID,
		Amount:  t.amount,
	}
}

// pullCurrencyPayload instructs the maker's chain to pull the price from the
// maker there, settle the embedded fee split, and pay the caller the net.
func (e *Engine) pullCurrencyPayload(t *trade) bridge.Payload {
	return bridge.Payload{
		Leg:                  bridge.LegCurrency,
		TradeID:              t.tradeID,
		Asset:                t.maker.Currency,
		From:                 t.maker.Signer,
		To:                   t.taker.Taker,
		Amount:               t.price,
		ProtocolFee:          t.protocolFee,
		ProtocolFeeRecipient: e.protocolFeeRecipient,
		RoyaltyFee:           t.royaltyFee,
		RoyaltyRecipient:     t.royaltyRecipient,
		MinPercentageToAsk:   t.sellerMinBps,
	}
}

// assetRequest is the taker-ask asset leg: the caller's asset goes to the
// maker, bridging to the maker's chain when the trade is cross-chain.
func (e *Engine) assetRequest(t *trade) transfer.Request {
	return transfer.Request{
		From:       t.taker.Taker,
		To:         t.maker.Signer,
		Collection: t.collection,
		TokenID:    t.tokenID,
		Amount:     t.amount,
		DstChainID: t.dstChainID,
		TradeID:    t.tradeID,
		Refund:     t.taker.Taker,
	}
}

// settleParams is the taker-bid currency leg: the caller pays here, fees
// settle here, and the net payout reaches the maker, bridging when remote.
func (e *Engine) settleParams(t *trade, budget *big.Int) fund.SettleParams {
	return fund.SettleParams{
		Currency:             t.currency,
		From:                 t.taker.Taker,
		To:                   t.maker.Signer,
		Amount:               t.price,
		ProtocolFeeAmount:    t.protocolFee,
		ProtocolFeeRecipient: e.protocolFeeRecipient,
		RoyaltyAmount:        t.royaltyFee,
		RoyaltyRecipient:     t.royaltyRecipient,
		MinPercentageToAsk:   t.sellerMinBps,
		DstChainID:           t.dstChainID,
		TradeID:              t.tradeID,
		Refund:               t.taker.Taker,
		NativeBudget:         budget,
	}
}

func (e *Engine) executeTakerBid(ctx context.Context, t *trade, opts Options) (*Receipt, error) {
	if opts.value().Cmp(t.fees.Total) < 0 {
		return nil, errors.NewWithKind(errors.KindInsufficientValue).
			Explain("supplied value %s below required fees %s", opts.value(), t.fees.Total)
	}

	// Everything checkable is checked before the nonce is spent or a balance
	// moves; from here on failures are transport-level.
	currencyBudget := new(big.Int).Sub(opts.value(), t.fees.AssetLegFee)
	params := e.settleParams(t, currencyBudget)
	if err := e.funds.Preflight(params); err != nil {
		return nil, err
	}

	if err := e.nonces.Consume(t.maker.Signer, t.maker.Nonce); err != nil {
		return nil, err
	}

	if t.cross {
		// Payment first: the caller funds the trade on this chain, then the
		// pull instruction for the asset leaves for the maker's chain.
		currencyFee, err := e.funds.Settle(ctx, params)
		if err != nil {
			e.compensateNonce(t)
			return nil, err
		}
		assetFee, err := e.router.SendLeg(ctx, t.dstChainID, e.pullAssetPayload(t), t.taker.Taker, nil, common.Address{})
		if err != nil {
			// The payment already netted across; only an operator can
			// reconcile this trade now.
			e.logger.Error("asset pull dispatch failed after payment settled",
				zap.String("trade_id", t.tradeID), zap.Error(err))
			return nil, errors.Wrap(err).Explain("asset leg dispatch failed for trade %s", t.tradeID)
		}
		return e.receipt(t, Fees{
			AssetLegFee:    assetFee,
			CurrencyLegFee: currencyFee,
			Total:          new(big.Int).Add(assetFee, currencyFee),
		}), nil
	}

	// Local fill: custody moves, then payment. The payment was preflighted,
	// so a failure here is an invariant break, not a user error.
	mgr, err := e.selector.ManagerFor(t.collection)
	if err != nil {
		e.compensateNonce(t)
		return nil, err
	}
	req := e.assetLocalRequest(t)
	if _, err := mgr.Transfer(ctx, req); err != nil {
		e.compensateNonce(t)
		return nil, err
	}
	if _, err := e.funds.Settle(ctx, params); err != nil {
		e.logger.Error("payment failed after asset moved",
			zap.String("trade_id", t.tradeID), zap.Error(err))
		return nil, err
	}
	return e.receipt(t, t.fees), nil
}

func (e *Engine) executeTakerAsk(ctx context.Context, t *trade, opts Options) (*Receipt, error) {
	if opts.value().Cmp(t.fees.Total) < 0 {
		return nil, errors.NewWithKind(errors.KindInsufficientValue).
			Explain("supplied value %s below required fees %s", opts.value(), t.fees.Total)
	}

	if t.cross {
		if err := e.nonces.Consume(t.maker.Signer, t.maker.Nonce); err != nil {
			return nil, err
		}
		// Asset first: the bridgeable manager compensates with a mint-back
		// if its dispatch fails, so the trade aborts cleanly.
		mgr, err := e.selector.ManagerFor(t.collection)
		if err != nil {
			e.compensateNonce(t)
			return nil, err
		}
		assetFee, err := mgr.Transfer(ctx, e.assetRequest(t))
		if err != nil {
			e.compensateNonce(t)
			return nil, err
		}
		currencyFee, err := e.router.SendLeg(ctx, t.dstChainID, e.pullCurrencyPayload(t), t.taker.Taker, nil, common.Address{})
		if err != nil {
			e.logger.Error("payment pull dispatch failed after asset left",
				zap.String("trade_id", t.tradeID), zap.Error(err))
			return nil, errors.Wrap(err).Explain("currency leg dispatch failed for trade %s", t.tradeID)
		}
		return e.receipt(t, Fees{
			AssetLegFee:    assetFee,
			CurrencyLegFee: currencyFee,
			Total:          new(big.Int).Add(assetFee, currencyFee),
		}), nil
	}

	// Local fill: the maker pays, the caller's asset moves.
	params := fund.SettleParams{
		Currency:             t.currency,
		From:                 t.maker.Signer,
		To:                   t.taker.Taker,
		Amount:               t.price,
		ProtocolFeeAmount:    t.protocolFee,
		ProtocolFeeRecipient: e.protocolFeeRecipient,
		RoyaltyAmount:        t.royaltyFee,
		RoyaltyRecipient:     t.royaltyRecipient,
		MinPercentageToAsk:   t.sellerMinBps,
		TradeID:              t.tradeID,
		Refund:               t.taker.Taker,
	}
	if err := e.funds.Preflight(params); err != nil {
		return nil, err
	}
	if err := e.nonces.Consume(t.maker.Signer, t.maker.Nonce); err != nil {
		return nil, err
	}
	mgr, err := e.selector.ManagerFor(t.collection)
	if err != nil {
		e.compensateNonce(t)
		return nil, err
	}
	if _, err := mgr.Transfer(ctx, e.assetRequest(t)); err != nil {
		e.compensateNonce(t)
		return nil, err
	}
	if _, err := e.funds.Settle(ctx, params); err != nil {
		e.logger.Error("payment failed after asset moved",
			zap.String("trade_id", t.tradeID), zap.Error(err))
		return nil, err
	}
	return e.receipt(t, t.fees), nil
}

// assetLocalRequest is the taker-bid local asset leg: maker to caller.
func (e *Engine) assetLocalRequest(t *trade) transfer.Request {
	return transfer.Request{
		From:       t.maker.Signer,
		To:         t.taker.Taker,
		Collection: t.collection,
		TokenID:    t.tokenID,
		Amount:     t.amount,
		TradeID:    t.tradeID,
		Refund:     t.taker.Taker,
	}
}

func (e *Engine) compensateNonce(t *trade) {
	if err := e.nonces.Release(t.maker.Signer, t.maker.Nonce); err != nil {
		e.logger.Error("nonce release failed",
			zap.String("signer", t.maker.Signer.Hex()),
			zap.Uint64("nonce", t.maker.Nonce), zap.Error(err))
	}
}

func (e *Engine) receipt(t *trade, fees Fees) *Receipt {
	e.logger.Info("trade settled",
		zap.String("trade_id", t.tradeID),
		zap.Bool("cross_chain", t.cross),
		zap.String("price", t.price.String()),
		zap.String("protocol_fee", t.protocolFee.String()),
		zap.String("royalty_fee", t.royaltyFee.String()))
	return &Receipt{
		TradeID:          t.tradeID,
		TokenID:          t.tokenID,
		Amount:           t.amount,
		Price:            t.price,
		ProtocolFee:      t.protocolFee,
		RoyaltyFee:       t.royaltyFee,
		RoyaltyRecipient: t.royaltyRecipient,
		Fees:             fees,
		CrossChain:       t.cross,
	}
}

// BidPair groups one batch entry.
type BidPair struct {
	Taker *order.TakerOrder
	Maker *order.MakerOrder
}

// BatchResult reports a batch fill: Receipts[i] and Errors[i] describe
// pair i, exactly one of them non-nil.
type BatchResult struct {
	Receipts []*Receipt
	Errors   []error
}

// ExecuteMultipleTakerBids fills several maker asks against the caller's bids
// under one shared native budget. Every pair is admission-checked and the
// total fee requirement verified against the budget before any pair settles;
// a budget short by anything rejects the whole batch. After that, a pair
// failure aborts the remaining pairs unless ContinueOnFailure is set.
func (e *Engine) ExecuteMultipleTakerBids(ctx context.Context, pairs []BidPair, opts BatchOptions) (*BatchResult, error) {
	if len(pairs) == 0 {
		return nil, errors.Validation("empty batch")
	}

	trades := make([]*trade, len(pairs))
	required := new(big.Int)
	for i, pair := range pairs {
		if !pair.Maker.IsAsk || pair.Taker.IsAsk {
			return nil, errors.Validation("batch pair %d is not a taker bid", i)
		}
		t, err := e.prepare(pair.Maker, pair.Taker, true)
		if err != nil {
			return nil, errors.Wrap(err).Explain("batch pair %d rejected", i)
		}
		trades[i] = t
		required.Add(required, t.fees.Total)
	}
	if opts.value().Cmp(required) < 0 {
		e.metrics.failures.WithLabelValues(errors.KindInsufficientValue).Inc()
		return nil, errors.NewWithKind(errors.KindInsufficientValue).
			Explain("supplied value %s below batch fees %s", opts.value(), required)
	}

	result := &BatchResult{
		Receipts: make([]*Receipt, len(pairs)),
		Errors:   make([]error, len(pairs)),
	}
	remaining := new(big.Int).Set(opts.value())
	for i, t := range trades {
		receipt, err := e.executeTakerBid(ctx, t, Options{Value: remaining})
		if err != nil {
			e.metrics.failures.WithLabelValues(errors.KindOf(err)).Inc()
			result.Errors[i] = err
			if !opts.ContinueOnFailure {
				return result, errors.Wrap(err).Explain("batch aborted at pair %d", i)
			}
			continue
		}
		result.Receipts[i] = receipt
		remaining.Sub(remaining, receipt.Fees.Total)
		e.metrics.trades.WithLabelValues(tradeScope(t.cross), "taker_bid").Inc()
	}
	return result, nil
}

// bpsOf is amount*bps/10000 truncating toward zero.
func bpsOf(amount *big.Int, bps uint64) *big.Int {
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return fee.Div(fee, big.NewInt(10000))
}

func tradeScope(cross bool) string {
	if cross {
		return "cross_chain"
	}
	return "local"
}
