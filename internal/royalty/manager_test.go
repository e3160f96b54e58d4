package royalty

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

	"github.com/Aidin1998/omnidex/pkg/errors"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)
	return db
}

type fixedRegistry struct {
	recipient common.Address
	bps       uint64
}

func (r fixedRegistry) RoyaltyInfo(collection common.Address, amount *big.Int) (common.Address, *big.Int, bool) {
	royalty := new(big.Int).Mul(amount, new(big.Int).SetUint64(r.bps))
	royalty.Quo(royalty, big.NewInt(10000))
	return r.recipient, royalty, true
}

func TestNewFeeManagerRejectsExcessiveLimit(t *testing.T) {
	_, err := NewFeeManager(testDB(t), nil, 9501, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Equal(t, errors.KindConfig, errors.KindOf(err))
}

func TestComputeRoyaltyFromOverride(t *testing.T) {
	m, err := NewFeeManager(testDB(t), nil, 1000, zaptest.NewLogger(t))
	require.NoError(t, err)

	collection := common.HexToAddress("0x00000000000000000000000000000000000000c0")
	recipient := common.HexToAddress("0x00000000000000000000000000000000000000dd")

	// No override: zero royalty.
	got, amount, err := m.ComputeRoyalty(collection, big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, got)
	assert.Zero(t, amount.Sign())

	require.NoError(t, m.SetOverride(collection, recipient, 300))
	got, amount, err = m.ComputeRoyalty(collection, big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, recipient, got)
	assert.Zero(t, amount.Cmp(big.NewInt(30)))

	// Truncation toward zero: 3% of 99 is 2, not 2.97.
	_, amount, err = m.ComputeRoyalty(collection, big.NewInt(99))
	require.NoError(t, err)
	assert.Zero(t, amount.Cmp(big.NewInt(2)))
}

func TestSetOverrideRespectsLimit(t *testing.T) {
	m, err := NewFeeManager(testDB(t), nil, 500, zaptest.NewLogger(t))
	require.NoError(t, err)

	collection := common.HexToAddress("0x00000000000000000000000000000000000000c0")
	recipient := common.HexToAddress("0x00000000000000000000000000000000000000dd")

	err = m.SetOverride(collection, recipient, 501)
	require.Error(t, err)

	require.NoError(t, m.SetOverride(collection, recipient, 500))
	list, err := m.ListOverrides()
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, m.RemoveOverride(collection))
	list, err = m.ListOverrides()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestExternalRegistryClampedToCap(t *testing.T) {
	recipient := common.HexToAddress("0x00000000000000000000000000000000000000dd")
	// The registry claims 20%, the deployment cap is 10%.
	m, err := NewFeeManager(testDB(t), fixedRegistry{recipient: recipient, bps: 2000}, 1000, zaptest.NewLogger(t))
	require.NoError(t, err)

	collection := common.HexToAddress("0x00000000000000000000000000000000000000c0")
	got, amount, err := m.ComputeRoyalty(collection, big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, recipient, got)
	assert.Zero(t, amount.Cmp(big.NewInt(100)))
}

func TestExternalRegistryWithinCap(t *testing.T) {
	recipient := common.HexToAddress("0x00000000000000000000000000000000000000dd")
	m, err := NewFeeManager(testDB(t), fixedRegistry{recipient: recipient, bps: 250}, 1000, zaptest.NewLogger(t))
	require.NoError(t, err)

	collection := common.HexToAddress("0x00000000000000000000000000000000000000c0")
	_, amount, err := m.ComputeRoyalty(collection, big.NewInt(1000))
	require.NoError(t, err)
	assert.Zero(t, amount.Cmp(big.NewInt(25)))
}
