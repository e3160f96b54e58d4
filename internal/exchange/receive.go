package exchange

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Aidin1998/omnidex/internal/bridge"
	"github.com/Aidin1998/omnidex/internal/fund"
	"github.com/Aidin1998/omnidex/internal/transfer"
	"github.com/Aidin1998/omnidex/pkg/errors"
)

// Receive applies an inbound trade leg. Only the engine bound as the trusted
// remote for the source chain may deliver; anything else is rejected before
// the payload is even decoded. Re-delivery of an applied leg is a no-op, and
// an error return tells the transport to block the path and store the
// payload for the operator.
func (e *Engine) Receive(ctx context.Context, srcChainID uint16, srcAddress common.Address, nonce uint64, payload []byte) error {
	trusted, err := e.router.TrustedRemote(srcChainID)
	if err != nil {
		return err
	}
	if trusted != srcAddress {
		e.metrics.inbound.WithLabelValues("unknown", "rejected").Inc()
		return errors.NewWithKind(errors.KindUntrustedRemote).
			Explain("chain %d packet from %s, trusted remote is %s", srcChainID, srcAddress.Hex(), trusted.Hex())
	}

	p, err := bridge.DecodePayload(payload)
	if err != nil {
		e.metrics.inbound.WithLabelValues("unknown", "rejected").Inc()
		return err
	}

	seen, err := e.processed.Seen(srcChainID, p.TradeID, p.Leg)
	if err != nil {
		return err
	}
	if seen {
		e.metrics.inbound.WithLabelValues(string(p.Leg), "duplicate").Inc()
		e.logger.Info("duplicate leg delivery ignored",
			zap.String("trade_id", p.TradeID), zap.String("leg", string(p.Leg)))
		return nil
	}

	switch p.Leg {
	case bridge.LegAsset:
		err = e.applyAssetLeg(ctx, p)
	case bridge.LegCurrency:
		err = e.applyCurrencyLeg(ctx, p)
	}
	if err != nil {
		e.metrics.inbound.WithLabelValues(string(p.Leg), "failed").Inc()
		e.logger.Error("inbound leg failed",
			zap.Uint16("src_chain", srcChainID),
			zap.String("trade_id", p.TradeID),
			zap.String("leg", string(p.Leg)),
			zap.Uint64("packet_nonce", nonce),
			zap.Error(err))
		return err
	}

	if err := e.processed.Mark(srcChainID, p.TradeID, p.Leg); err != nil {
		// The leg already landed. Surfacing the error would block the path
		// and re-apply the leg on the operator's retry, so the delivery is
		// acknowledged and the missing mark is left to the logs.
		e.logger.Error("processed-leg mark failed",
			zap.Uint16("src_chain", srcChainID),
			zap.String("trade_id", p.TradeID),
			zap.String("leg", string(p.Leg)),
			zap.Error(err))
	}
	e.metrics.inbound.WithLabelValues(string(p.Leg), "applied").Inc()
	e.logger.Info("inbound leg applied",
		zap.Uint16("src_chain", srcChainID),
		zap.String("trade_id", p.TradeID),
		zap.String("leg", string(p.Leg)))
	return nil
}

// applyAssetLeg lands an asset on this chain. A zero From means the source
// burned or escrowed it and the local collection mints; otherwise the leg
// pulls the asset out of From's local custody, which requires the approval
// From granted the transfer manager here.
func (e *Engine) applyAssetLeg(ctx context.Context, p bridge.Payload) error {
	if (p.From == common.Address{}) {
		return e.selector.ApplyInbound(ctx, p.Asset, p.To, p.TokenID, p.Amount)
	}
	mgr, err := e.selector.ManagerFor(p.Asset)
	if err != nil {
		return err
	}
	_, err = mgr.Transfer(ctx, e.inboundTransfer(p))
	return err
}

// applyCurrencyLeg lands a payment. A zero From credits a bridged net amount
// (mint or pool release); otherwise the leg pulls the full price from From
// here and settles the fee split the sending engine embedded.
func (e *Engine) applyCurrencyLeg(ctx context.Context, p bridge.Payload) error {
	if (p.From == common.Address{}) {
		return e.funds.ApplyInbound(ctx, p.Asset, p.To, p.Amount)
	}
	_, err := e.funds.Settle(ctx, fund.SettleParams{
		Currency:             p.Asset,
		From:                 p.From,
		To:                   p.To,
		Amount:               p.Amount,
		ProtocolFeeAmount:    orZero(p.ProtocolFee),
		ProtocolFeeRecipient: p.ProtocolFeeRecipient,
		RoyaltyAmount:        orZero(p.RoyaltyFee),
		RoyaltyRecipient:     p.RoyaltyRecipient,
		MinPercentageToAsk:   p.MinPercentageToAsk,
		TradeID:              p.TradeID,
		Refund:               p.To,
	})
	return err
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func (e *Engine) inboundTransfer(p bridge.Payload) transfer.Request {
	return transfer.Request{
		From:       p.From,
		To:         p.To,
		Collection: p.Asset,
		TokenID:    p.TokenID,
		Amount:     p.Amount,
		TradeID:    p.TradeID,
		Refund:     p.To,
	}
}
