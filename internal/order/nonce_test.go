package order

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func TestNonceConsumeOnce(t *testing.T) {
	reg, err := NewNonceRegistry(testDB(t))
	require.NoError(t, err)
	signer := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	require.NoError(t, reg.IsUsable(signer, 5))
	require.NoError(t, reg.Consume(signer, 5))

	err = reg.Consume(signer, 5)
	require.Error(t, err)
	assert.Equal(t, errors.KindReplayedOrder, errors.KindOf(err))

	err = reg.IsUsable(signer, 5)
	require.Error(t, err)
	assert.Equal(t, errors.KindReplayedOrder, errors.KindOf(err))

	// Other nonces and other signers stay usable.
	require.NoError(t, reg.IsUsable(signer, 6))
	other := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	require.NoError(t, reg.IsUsable(other, 5))
}

func TestNonceRelease(t *testing.T) {
	reg, err := NewNonceRegistry(testDB(t))
	require.NoError(t, err)
	signer := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	require.NoError(t, reg.Consume(signer, 9))
	require.NoError(t, reg.Release(signer, 9))
	require.NoError(t, reg.IsUsable(signer, 9))
	require.NoError(t, reg.Consume(signer, 9))
}

func TestCancelAllBelow(t *testing.T) {
	reg, err := NewNonceRegistry(testDB(t))
	require.NoError(t, err)
	signer := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	require.NoError(t, reg.Consume(signer, 3))
	require.NoError(t, reg.CancelAllBelow(signer, 10))

	floor, err := reg.MinValid(signer)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), floor)

	err = reg.IsUsable(signer, 9)
	require.Error(t, err)
	assert.Equal(t, errors.KindReplayedOrder, errors.KindOf(err))
	require.NoError(t, reg.IsUsable(signer, 10))

	// Re-raising to the same floor is a no-op; lowering is rejected.
	require.NoError(t, reg.CancelAllBelow(signer, 10))
	err = reg.CancelAllBelow(signer, 4)
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))

	// Consumed rows below the floor were pruned but the nonce stays dead.
	var count int64
	require.NoError(t, reg.db.Model(&ConsumedNonce{}).Where("signer = ?", signer.Hex()).Count(&count).Error)
	assert.Zero(t, count)
	assert.Error(t, reg.IsUsable(signer, 3))
}

func TestCancelIndividualNonces(t *testing.T) {
	reg, err := NewNonceRegistry(testDB(t))
	require.NoError(t, err)
	signer := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	require.NoError(t, reg.Cancel(signer, 2, 4))
	assert.Error(t, reg.IsUsable(signer, 2))
	assert.Error(t, reg.IsUsable(signer, 4))
	require.NoError(t, reg.IsUsable(signer, 3))

	// Cancelling again, or cancelling an already-consumed nonce, is fine.
	require.NoError(t, reg.Cancel(signer, 2))
	require.NoError(t, reg.Consume(signer, 3))
	require.NoError(t, reg.Cancel(signer, 3))
}
