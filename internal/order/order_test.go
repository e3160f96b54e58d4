package order

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/omnidex/pkg/errors"
)

func testDomain() *Domain {
	return NewDomain(101, common.HexToAddress("0x00000000000000000000000000000000000000ee"))
}

func signedOrder(t *testing.T, domain *Domain) *MakerOrder {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	o := &MakerOrder{
		IsAsk:              true,
		Signer:             crypto.PubkeyToAddress(key.PublicKey),
		Collection:         common.HexToAddress("0x00000000000000000000000000000000000000c0"),
		Price:              big.NewInt(1000),
		TokenID:            big.NewInt(7),
		Amount:             big.NewInt(1),
		Strategy:           common.HexToAddress("0x0000000000000000000000000000000000000101"),
		Currency:           common.HexToAddress("0x00000000000000000000000000000000000000c1"),
		Nonce:              1,
		StartTime:          0,
		EndTime:            1 << 40,
		MinPercentageToAsk: 9000,
	}
	require.NoError(t, Sign(domain, o, key))
	return o
}

func TestSignAndVerify(t *testing.T) {
	domain := testDomain()
	o := signedOrder(t, domain)

	require.NoError(t, Verify(domain, o))
	assert.True(t, o.V == 27 || o.V == 28)
}

func TestVerifyRejectsMutatedOrder(t *testing.T) {
	domain := testDomain()

	mutations := map[string]func(o *MakerOrder){
		"price":    func(o *MakerOrder) { o.Price = big.NewInt(999) },
		"token id": func(o *MakerOrder) { o.TokenID = big.NewInt(8) },
		"nonce":    func(o *MakerOrder) { o.Nonce++ },
		"currency": func(o *MakerOrder) { o.Currency = common.HexToAddress("0xdead") },
		"side":     func(o *MakerOrder) { o.IsAsk = false },
		"params":   func(o *MakerOrder) { o.Params = []byte{0x01} },
		"min bps":  func(o *MakerOrder) { o.MinPercentageToAsk = 1 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			o := signedOrder(t, domain)
			mutate(o)
			err := Verify(domain, o)
			require.Error(t, err)
			assert.Equal(t, errors.KindBadSignature, errors.KindOf(err))
		})
	}
}

func TestVerifyRejectsWrongDomain(t *testing.T) {
	domain := testDomain()
	o := signedOrder(t, domain)

	otherChain := NewDomain(202, domain.VerifyingContract)
	err := Verify(otherChain, o)
	require.Error(t, err)
	assert.Equal(t, errors.KindBadSignature, errors.KindOf(err))

	otherContract := NewDomain(101, common.HexToAddress("0x00000000000000000000000000000000000000ff"))
	err = Verify(otherContract, o)
	require.Error(t, err)
	assert.Equal(t, errors.KindBadSignature, errors.KindOf(err))
}

func TestSignRejectsForeignKey(t *testing.T) {
	domain := testDomain()
	o := signedOrder(t, domain)

	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	err = Sign(domain, o, otherKey)
	require.Error(t, err)
	assert.Equal(t, errors.KindBadSignature, errors.KindOf(err))
}

func TestMakerOrderValidateWindow(t *testing.T) {
	domain := testDomain()
	o := signedOrder(t, domain)

	require.NoError(t, o.Validate(100))

	o.StartTime = 200
	err := o.Validate(100)
	require.Error(t, err)
	assert.Equal(t, errors.KindExpiredOrder, errors.KindOf(err))

	o.StartTime = 0
	o.EndTime = 50
	err = o.Validate(100)
	require.Error(t, err)
	assert.Equal(t, errors.KindExpiredOrder, errors.KindOf(err))
}

func TestMakerOrderValidateFields(t *testing.T) {
	domain := testDomain()

	o := signedOrder(t, domain)
	o.Price = big.NewInt(0)
	assert.Equal(t, errors.KindValidation, errors.KindOf(o.Validate(100)))

	o = signedOrder(t, domain)
	o.Amount = nil
	assert.Equal(t, errors.KindValidation, errors.KindOf(o.Validate(100)))

	o = signedOrder(t, domain)
	o.MinPercentageToAsk = 10001
	assert.Equal(t, errors.KindValidation, errors.KindOf(o.Validate(100)))
}

func TestTakerOrderValidate(t *testing.T) {
	taker := &TakerOrder{
		Taker:   common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Price:   big.NewInt(1000),
		TokenID: big.NewInt(7),
	}
	require.NoError(t, taker.Validate())

	taker.Taker = common.Address{}
	assert.Equal(t, errors.KindValidation, errors.KindOf(taker.Validate()))
}

func TestParamsRoundTrip(t *testing.T) {
	p := Params{
		DstChainID:       202,
		RemoteCurrency:   common.HexToAddress("0x00000000000000000000000000000000000000c1"),
		RemoteCollection: common.HexToAddress("0x00000000000000000000000000000000000000c0"),
		RemoteStrategy:   common.HexToAddress("0x0000000000000000000000000000000000000101"),
		Target:           common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		StartPrice:       big.NewInt(50),
		EndPrice:         big.NewInt(18),
	}
	raw, err := EncodeParams(p)
	require.NoError(t, err)

	decoded, err := DecodeParams(raw)
	require.NoError(t, err)
	assert.Equal(t, p.DstChainID, decoded.DstChainID)
	assert.Equal(t, p.RemoteCurrency, decoded.RemoteCurrency)
	assert.Equal(t, p.Target, decoded.Target)
	assert.Zero(t, decoded.StartPrice.Cmp(p.StartPrice))
	assert.Zero(t, decoded.EndPrice.Cmp(p.EndPrice))
}

func TestParamsEmptyIsLocal(t *testing.T) {
	p, err := DecodeParams(nil)
	require.NoError(t, err)
	assert.False(t, p.IsCrossChain(101))
	assert.Equal(t, uint16(0), p.DstChainID)
}

func TestParamsMalformed(t *testing.T) {
	_, err := DecodeParams([]byte{0x01, 0x02})
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}
