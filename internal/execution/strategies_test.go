package execution

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/Aidin1998/omnidex/internal/order"
	"github.com/Aidin1998/omnidex/pkg/errors"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)
	return db
}

func makerAsk(price int64) *order.MakerOrder {
	return &order.MakerOrder{
		IsAsk:     true,
		Signer:    common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Price:     big.NewInt(price),
		TokenID:   big.NewInt(7),
		Amount:    big.NewInt(1),
		StartTime: 100,
		EndTime:   200,
	}
}

func takerBid(price int64) *order.TakerOrder {
	return &order.TakerOrder{
		Taker:   common.HexToAddress("0x00000000000000000000000000000000000000bb"),
		Price:   big.NewInt(price),
		TokenID: big.NewInt(7),
	}
}

func TestStandardSaleExactMatch(t *testing.T) {
	s := NewStandardSale(200)
	assert.Equal(t, uint64(200), s.ProtocolFeeBps())

	ok, tokenID, amount := s.CanExecuteTakerBid(makerAsk(1000), takerBid(1000), 150)
	require.True(t, ok)
	assert.Zero(t, tokenID.Cmp(big.NewInt(7)))
	assert.Zero(t, amount.Cmp(big.NewInt(1)))

	ok, _, _ = s.CanExecuteTakerBid(makerAsk(1000), takerBid(999), 150)
	assert.False(t, ok)

	wrongToken := takerBid(1000)
	wrongToken.TokenID = big.NewInt(8)
	ok, _, _ = s.CanExecuteTakerBid(makerAsk(1000), wrongToken, 150)
	assert.False(t, ok)

	// Outside the window.
	ok, _, _ = s.CanExecuteTakerBid(makerAsk(1000), takerBid(1000), 300)
	assert.False(t, ok)
}

func TestStandardSaleTakerAsk(t *testing.T) {
	s := NewStandardSale(200)

	bid := makerAsk(1000)
	bid.IsAsk = false
	ask := takerBid(1000)
	ask.IsAsk = true

	ok, _, _ := s.CanExecuteTakerAsk(bid, ask, 150)
	assert.True(t, ok)

	// A maker ask cannot be filled by a taker ask.
	ok, _, _ = s.CanExecuteTakerAsk(makerAsk(1000), ask, 150)
	assert.False(t, ok)
}

func TestPrivateSaleTargetOnly(t *testing.T) {
	s := NewPrivateSale(200)
	target := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	maker := makerAsk(1000)
	params, err := order.EncodeParams(order.Params{Target: target})
	require.NoError(t, err)
	maker.Params = params

	ok, _, _ := s.CanExecuteTakerBid(maker, takerBid(1000), 150)
	assert.True(t, ok)

	stranger := takerBid(1000)
	stranger.Taker = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	ok, _, _ = s.CanExecuteTakerBid(maker, stranger, 150)
	assert.False(t, ok)

	ok, _, _ = s.CanExecuteTakerAsk(maker, takerBid(1000), 150)
	assert.False(t, ok)
}

func TestDutchAuctionDecay(t *testing.T) {
	s := NewDutchAuction(200)

	maker := makerAsk(50)
	params, err := order.EncodeParams(order.Params{
		StartPrice: big.NewInt(50),
		EndPrice:   big.NewInt(18),
	})
	require.NoError(t, err)
	maker.Params = params

	// Clamped to the bounds outside the window.
	price, err := s.CurrentPrice(maker, 50)
	require.NoError(t, err)
	assert.Zero(t, price.Cmp(big.NewInt(50)))

	price, err = s.CurrentPrice(maker, 500)
	require.NoError(t, err)
	assert.Zero(t, price.Cmp(big.NewInt(18)))

	// Halfway through the window: 50 - (50-18)/2 = 34.
	price, err = s.CurrentPrice(maker, 150)
	require.NoError(t, err)
	assert.Zero(t, price.Cmp(big.NewInt(34)))

	// Truncation: at 1/3 of the window the decay is floor(32*33/100) = 10.
	maker.StartTime, maker.EndTime = 100, 200
	price, err = s.CurrentPrice(maker, 133)
	require.NoError(t, err)
	assert.Zero(t, price.Cmp(big.NewInt(40)))
}

func TestDutchAuctionBidMustMeetCurrent(t *testing.T) {
	s := NewDutchAuction(200)

	maker := makerAsk(50)
	params, err := order.EncodeParams(order.Params{
		StartPrice: big.NewInt(50),
		EndPrice:   big.NewInt(18),
	})
	require.NoError(t, err)
	maker.Params = params

	ok, _, _ := s.CanExecuteTakerBid(maker, takerBid(34), 150)
	assert.True(t, ok)

	ok, _, _ = s.CanExecuteTakerBid(maker, takerBid(33), 150)
	assert.False(t, ok)

	ok, _, _ = s.CanExecuteTakerAsk(maker, takerBid(50), 150)
	assert.False(t, ok)
}

func TestDutchAuctionEmptyParamsUseMakerPrice(t *testing.T) {
	s := NewDutchAuction(200)

	// No auction params at all: the zero-value encoding must not produce a
	// zero ask that any bid would meet.
	maker := makerAsk(100)
	price, err := s.CurrentPrice(maker, 150)
	require.NoError(t, err)
	assert.Zero(t, price.Cmp(big.NewInt(100)))

	ok, _, _ := s.CanExecuteTakerBid(maker, takerBid(1), 150)
	assert.False(t, ok)
	ok, _, _ = s.CanExecuteTakerBid(maker, takerBid(100), 150)
	assert.True(t, ok)

	// Explicit zero prices are the same degenerate case.
	params, err := order.EncodeParams(order.Params{
		StartPrice: big.NewInt(0),
		EndPrice:   big.NewInt(0),
	})
	require.NoError(t, err)
	maker.Params = params

	price, err = s.CurrentPrice(maker, 150)
	require.NoError(t, err)
	assert.Zero(t, price.Cmp(big.NewInt(100)))
	ok, _, _ = s.CanExecuteTakerBid(maker, takerBid(1), 150)
	assert.False(t, ok)
}

func TestManagerWhitelist(t *testing.T) {
	m, err := NewManager(testDB(t), zaptest.NewLogger(t))
	require.NoError(t, err)

	addr := common.HexToAddress("0x0000000000000000000000000000000000000101")
	_, err = m.StrategyFor(addr)
	require.Error(t, err)
	assert.Equal(t, errors.KindStrategyNotWhitelisted, errors.KindOf(err))

	require.NoError(t, m.Register(addr, NewStandardSale(200)))
	assert.True(t, m.IsWhitelisted(addr))

	s, err := m.StrategyFor(addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), s.ProtocolFeeBps())

	list, err := m.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, m.Remove(addr))
	assert.False(t, m.IsWhitelisted(addr))
	_, err = m.StrategyFor(addr)
	assert.Equal(t, errors.KindStrategyNotWhitelisted, errors.KindOf(err))
}
