package execution

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Aidin1998/omnidex/internal/order"
)

// Well-known addresses of the built-in strategies. Makers reference these in
// their signed orders; deployments register the matching implementation.
var (
	StandardSaleAddress = common.HexToAddress("0x0000000000000000000000000000000000000101")
	PrivateSaleAddress  = common.HexToAddress("0x0000000000000000000000000000000000000102")
	DutchAuctionAddress = common.HexToAddress("0x0000000000000000000000000000000000000103")
)

// StandardSale fills at the maker's exact price and token id, in both
// directions.
type StandardSale struct {
	feeBps uint64
}

func NewStandardSale(feeBps uint64) *StandardSale {
	return &StandardSale{feeBps: feeBps}
}

func (s *StandardSale) ProtocolFeeBps() uint64 { return s.feeBps }

func (s *StandardSale) CanExecuteTakerBid(maker *order.MakerOrder, taker *order.TakerOrder, now int64) (bool, *big.Int, *big.Int) {
	ok := maker.IsAsk &&
		maker.Price.Cmp(taker.Price) == 0 &&
		maker.TokenID.Cmp(taker.TokenID) == 0 &&
		maker.StartTime <= now && now <= maker.EndTime
	if !ok {
		return false, nil, nil
	}
	return true, maker.TokenID, maker.Amount
}

func (s *StandardSale) CanExecuteTakerAsk(maker *order.MakerOrder, taker *order.TakerOrder, now int64) (bool, *big.Int, *big.Int) {
	ok := !maker.IsAsk &&
		maker.Price.Cmp(taker.Price) == 0 &&
		maker.TokenID.Cmp(taker.TokenID) == 0 &&
		maker.StartTime <= now && now <= maker.EndTime
	if !ok {
		return false, nil, nil
	}
	return true, maker.TokenID, maker.Amount
}

// PrivateSale is a standard sale fillable only by the counterparty named in
// the maker's params.
type PrivateSale struct {
	feeBps uint64
}

func NewPrivateSale(feeBps uint64) *PrivateSale {
	return &PrivateSale{feeBps: feeBps}
}

func (s *PrivateSale) ProtocolFeeBps() uint64 { return s.feeBps }

func (s *PrivateSale) CanExecuteTakerBid(maker *order.MakerOrder, taker *order.TakerOrder, now int64) (bool, *big.Int, *big.Int) {
	params, err := order.DecodeParams(maker.Params)
	if err != nil || taker.Taker != params.Target {
		return false, nil, nil
	}
	ok := maker.IsAsk &&
		maker.Price.Cmp(taker.Price) == 0 &&
		maker.TokenID.Cmp(taker.TokenID) == 0 &&
		maker.StartTime <= now && now <= maker.EndTime
	if !ok {
		return false, nil, nil
	}
	return true, maker.TokenID, maker.Amount
}

// CanExecuteTakerAsk never matches: a private listing is always a maker ask.
func (s *PrivateSale) CanExecuteTakerAsk(*order.MakerOrder, *order.TakerOrder, int64) (bool, *big.Int, *big.Int) {
	return false, nil, nil
}

// DutchAuction decays the ask linearly from the params' start price down to
// the params' end price over the order's time window. The taker's bid must
// meet the currently-decayed ask; given the same clock the result is
// deterministic.
type DutchAuction struct {
	feeBps uint64
}

func NewDutchAuction(feeBps uint64) *DutchAuction {
	return &DutchAuction{feeBps: feeBps}
}

func (s *DutchAuction) ProtocolFeeBps() uint64 { return s.feeBps }

// CurrentPrice returns the decayed ask at `now`, clamped to
// [endPrice, startPrice]. Interpolation truncates toward zero.
func (s *DutchAuction) CurrentPrice(maker *order.MakerOrder, now int64) (*big.Int, error) {
	params, err := order.DecodeParams(maker.Params)
	if err != nil {
		return nil, err
	}
	start, end := params.StartPrice, params.EndPrice
	if start == nil || end == nil || start.Sign() <= 0 || start.Cmp(end) < 0 {
		// Degenerate auction params, including the all-zero encoding of
		// missing params, fall back to the maker's fixed price.
		return new(big.Int).Set(maker.Price), nil
	}

	if now <= maker.StartTime {
		return new(big.Int).Set(start), nil
	}
	if now >= maker.EndTime || maker.EndTime == maker.StartTime {
		return new(big.Int).Set(end), nil
	}

	elapsed := big.NewInt(now - maker.StartTime)
	window := big.NewInt(maker.EndTime - maker.StartTime)
	span := new(big.Int).Sub(start, end)

	decay := new(big.Int).Mul(span, elapsed)
	decay.Quo(decay, window)
	return new(big.Int).Sub(start, decay), nil
}

func (s *DutchAuction) CanExecuteTakerBid(maker *order.MakerOrder, taker *order.TakerOrder, now int64) (bool, *big.Int, *big.Int) {
	if !maker.IsAsk || maker.TokenID.Cmp(taker.TokenID) != 0 ||
		maker.StartTime > now || now > maker.EndTime {
		return false, nil, nil
	}
	current, err := s.CurrentPrice(maker, now)
	if err != nil {
		return false, nil, nil
	}
	if taker.Price.Cmp(current) < 0 {
		return false, nil, nil
	}
	return true, maker.TokenID, maker.Amount
}

// CanExecuteTakerAsk never matches: auctions decay maker asks only.
func (s *DutchAuction) CanExecuteTakerAsk(*order.MakerOrder, *order.TakerOrder, int64) (bool, *big.Int, *big.Int) {
	return false, nil, nil
}
