package transfer

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/Aidin1998/omnidex/internal/bridge"
	"github.com/Aidin1998/omnidex/internal/ledger"
	"github.com/Aidin1998/omnidex/pkg/errors"
)

const (
	localChain  uint16 = 101
	remoteChain uint16 = 202
)

var (
	managerAddr    = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	seller         = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	buyer          = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	collectionAddr = common.HexToAddress("0x00000000000000000000000000000000000000c0")
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)
	return db
}

// captureReceiver records every payload delivered to it.
type captureReceiver struct {
	payloads []bridge.Payload
}

func (r *captureReceiver) Receive(ctx context.Context, srcChainID uint16, srcAddress common.Address, nonce uint64, payload []byte) error {
	p, err := bridge.DecodePayload(payload)
	if err != nil {
		return err
	}
	r.payloads = append(r.payloads, p)
	return nil
}

func testRouter(t *testing.T) (*bridge.Router, *captureReceiver) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	db := testDB(t)

	store, err := bridge.NewStoredPayloadStore(db)
	require.NoError(t, err)
	bindings, err := bridge.NewBindings(db, logger)
	require.NoError(t, err)

	remoteEngine := common.HexToAddress("0x00000000000000000000000000000000000000ef")
	require.NoError(t, bindings.Set(bridge.BindEngine, managerAddr, remoteChain, remoteEngine))
	require.NoError(t, bindings.Set(bridge.BindCollection, collectionAddr, remoteChain,
		common.HexToAddress("0x00000000000000000000000000000000000000c9")))

	relay := bridge.NewLoopback(bridge.DefaultFeeSchedule(), store, logger)
	capture := &captureReceiver{}
	relay.RegisterReceiver(remoteChain, remoteEngine, capture)

	endpoint := relay.EndpointFor(localChain, managerAddr)
	return bridge.NewRouter(endpoint, bindings, localChain, managerAddr, 350000, logger), capture
}

func TestERC721ManagerLocalMove(t *testing.T) {
	ledgers := ledger.NewRegistry()
	col := ledger.NewCollection(ledger.KindUnique)
	col.Mint(seller, big.NewInt(7), big.NewInt(1))
	ledgers.RegisterNFT(collectionAddr, col)

	m := NewERC721Manager(managerAddr, ledgers, localChain)
	req := Request{From: seller, To: buyer, Collection: collectionAddr, TokenID: big.NewInt(7), Amount: big.NewInt(1)}

	// Not approved yet.
	_, err := m.Transfer(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, errors.KindTransferRejected, errors.KindOf(err))

	col.SetApprovalForAll(seller, managerAddr, true)
	fee, err := m.Transfer(context.Background(), req)
	require.NoError(t, err)
	assert.Zero(t, fee.Sign())

	owner, ok := col.OwnerOf(big.NewInt(7))
	require.True(t, ok)
	assert.Equal(t, buyer, owner)
}

func TestERC721ManagerRejectsCrossChain(t *testing.T) {
	ledgers := ledger.NewRegistry()
	m := NewERC721Manager(managerAddr, ledgers, localChain)

	req := Request{From: seller, To: buyer, Collection: collectionAddr, TokenID: big.NewInt(7), Amount: big.NewInt(1), DstChainID: remoteChain}
	_, err := m.Transfer(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, errors.KindTransferRejected, errors.KindOf(err))
	_, err = m.Estimate(req)
	assert.Equal(t, errors.KindTransferRejected, errors.KindOf(err))
}

func TestERC1155ManagerMovesAmounts(t *testing.T) {
	ledgers := ledger.NewRegistry()
	col := ledger.NewCollection(ledger.KindSemiFungible)
	col.Mint(seller, big.NewInt(7), big.NewInt(10))
	ledgers.RegisterNFT(collectionAddr, col)
	col.SetApprovalForAll(seller, managerAddr, true)

	m := NewERC1155Manager(managerAddr, ledgers, localChain)
	_, err := m.Transfer(context.Background(), Request{
		From: seller, To: buyer, Collection: collectionAddr,
		TokenID: big.NewInt(7), Amount: big.NewInt(4),
	})
	require.NoError(t, err)
	assert.Zero(t, col.BalanceOf(seller, big.NewInt(7)).Cmp(big.NewInt(6)))
	assert.Zero(t, col.BalanceOf(buyer, big.NewInt(7)).Cmp(big.NewInt(4)))
}

func TestBridgeableManagerBurnsAndDispatches(t *testing.T) {
	router, capture := testRouter(t)

	ledgers := ledger.NewRegistry()
	col := ledger.NewCollection(ledger.KindUnique)
	col.Mint(seller, big.NewInt(7), big.NewInt(1))
	ledgers.RegisterNFT(collectionAddr, col)
	col.SetApprovalForAll(seller, managerAddr, true)

	m := NewBridgeableNFTManager(managerAddr, ledgers, router)
	fee, err := m.Transfer(context.Background(), Request{
		From: seller, To: buyer, Collection: collectionAddr,
		TokenID: big.NewInt(7), Amount: big.NewInt(1),
		DstChainID: remoteChain, TradeID: "t-1", Refund: seller,
	})
	require.NoError(t, err)
	assert.Positive(t, fee.Sign())

	// Burned locally.
	_, ok := col.OwnerOf(big.NewInt(7))
	assert.False(t, ok)

	// The remote engine got the mint instruction against the bound
	// destination collection.
	require.Len(t, capture.payloads, 1)
	p := capture.payloads[0]
	assert.Equal(t, bridge.LegAsset, p.Leg)
	assert.Equal(t, "t-1", p.TradeID)
	assert.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000000c9"), p.Asset)
	assert.Equal(t, buyer, p.To)
	assert.Equal(t, common.Address{}, p.From)
}

func TestBridgeableManagerUnboundCollection(t *testing.T) {
	router, _ := testRouter(t)

	other := common.HexToAddress("0x00000000000000000000000000000000000000c5")
	ledgers := ledger.NewRegistry()
	col := ledger.NewCollection(ledger.KindUnique)
	col.Mint(seller, big.NewInt(7), big.NewInt(1))
	ledgers.RegisterNFT(other, col)
	col.SetApprovalForAll(seller, managerAddr, true)

	m := NewBridgeableNFTManager(managerAddr, ledgers, router)
	_, err := m.Transfer(context.Background(), Request{
		From: seller, To: buyer, Collection: other,
		TokenID: big.NewInt(7), Amount: big.NewInt(1),
		DstChainID: remoteChain,
	})
	require.Error(t, err)
	assert.Equal(t, errors.KindRemoteBindingMissing, errors.KindOf(err))

	// Nothing was burned.
	owner, ok := col.OwnerOf(big.NewInt(7))
	require.True(t, ok)
	assert.Equal(t, seller, owner)
}

func TestSelectorRoutesByKind(t *testing.T) {
	ledgers := ledger.NewRegistry()
	unique := ledger.NewCollection(ledger.KindUnique)
	semi := ledger.NewCollection(ledger.KindSemiFungible)
	semiAddr := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	ledgers.RegisterNFT(collectionAddr, unique)
	ledgers.RegisterNFT(semiAddr, semi)

	erc721 := NewERC721Manager(managerAddr, ledgers, localChain)
	erc1155 := NewERC1155Manager(managerAddr, ledgers, localChain)
	s := NewSelector(ledgers, erc721, erc1155, zaptest.NewLogger(t))

	m, err := s.ManagerFor(collectionAddr)
	require.NoError(t, err)
	assert.Same(t, Manager(erc721), m)

	m, err = s.ManagerFor(semiAddr)
	require.NoError(t, err)
	assert.Same(t, Manager(erc1155), m)

	_, err = s.ManagerFor(common.HexToAddress("0x00000000000000000000000000000000000000c2"))
	require.Error(t, err)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
}

func TestSelectorOverride(t *testing.T) {
	router, _ := testRouter(t)
	ledgers := ledger.NewRegistry()
	col := ledger.NewCollection(ledger.KindUnique)
	ledgers.RegisterNFT(collectionAddr, col)

	erc721 := NewERC721Manager(managerAddr, ledgers, localChain)
	erc1155 := NewERC1155Manager(managerAddr, ledgers, localChain)
	s := NewSelector(ledgers, erc721, erc1155, zaptest.NewLogger(t))

	bridgeable := NewBridgeableNFTManager(managerAddr, ledgers, router)
	s.SetOverride(collectionAddr, bridgeable)
	m, err := s.ManagerFor(collectionAddr)
	require.NoError(t, err)
	assert.Same(t, Manager(bridgeable), m)

	s.RemoveOverride(collectionAddr)
	m, err = s.ManagerFor(collectionAddr)
	require.NoError(t, err)
	assert.Same(t, Manager(erc721), m)
}

func TestSelectorApplyInbound(t *testing.T) {
	ledgers := ledger.NewRegistry()
	col := ledger.NewCollection(ledger.KindUnique)
	ledgers.RegisterNFT(collectionAddr, col)

	erc721 := NewERC721Manager(managerAddr, ledgers, localChain)
	erc1155 := NewERC1155Manager(managerAddr, ledgers, localChain)
	s := NewSelector(ledgers, erc721, erc1155, zaptest.NewLogger(t))

	require.NoError(t, s.ApplyInbound(context.Background(), collectionAddr, buyer, big.NewInt(7), big.NewInt(1)))
	owner, ok := col.OwnerOf(big.NewInt(7))
	require.True(t, ok)
	assert.Equal(t, buyer, owner)
}
