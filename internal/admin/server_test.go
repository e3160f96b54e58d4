package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/Aidin1998/omnidex/internal/bridge"
	"github.com/Aidin1998/omnidex/internal/currency"
	"github.com/Aidin1998/omnidex/internal/exchange"
	"github.com/Aidin1998/omnidex/internal/execution"
	"github.com/Aidin1998/omnidex/internal/fund"
	"github.com/Aidin1998/omnidex/internal/ledger"
	"github.com/Aidin1998/omnidex/internal/order"
	"github.com/Aidin1998/omnidex/internal/royalty"
	"github.com/Aidin1998/omnidex/internal/transfer"
	"github.com/Aidin1998/omnidex/pkg/errors"
)

var (
	engineAddr   = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	signerAddr   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenAddr    = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	remoteEngine = common.HexToAddress("0x00000000000000000000000000000000000000ef")
)

// pathCall records the recovery operations routed to the transport.
type pathCall struct {
	op         string
	srcChainID uint16
	srcAddress common.Address
	dstAddress common.Address
}

type stubPayloads struct {
	calls []pathCall
	err   error
}

func (s *stubPayloads) RetryPayload(_ context.Context, srcChainID uint16, srcAddress, dstAddress common.Address) error {
	s.calls = append(s.calls, pathCall{"retry", srcChainID, srcAddress, dstAddress})
	return s.err
}

func (s *stubPayloads) ForceResumeReceive(srcChainID uint16, srcAddress, dstAddress common.Address) error {
	s.calls = append(s.calls, pathCall{"force_resume", srcChainID, srcAddress, dstAddress})
	return s.err
}

type fixture struct {
	server   *Server
	payloads *stubPayloads

	nonces     *order.NonceRegistry
	currencies *currency.Manager
	executions *execution.Manager
	royalties  *royalty.FeeManager
	bindings   *bridge.Bindings
	stored     *bridge.StoredPayloadStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)

	nonces, err := order.NewNonceRegistry(db)
	require.NoError(t, err)
	currencies, err := currency.NewManager(db, logger)
	require.NoError(t, err)
	executions, err := execution.NewManager(db, logger)
	require.NoError(t, err)
	royalties, err := royalty.NewFeeManager(db, nil, 1000, logger)
	require.NoError(t, err)
	bindings, err := bridge.NewBindings(db, logger)
	require.NoError(t, err)
	stored, err := bridge.NewStoredPayloadStore(db)
	require.NoError(t, err)
	processed, err := bridge.NewProcessedLegStore(db)
	require.NoError(t, err)

	relay := bridge.NewLoopback(bridge.DefaultFeeSchedule(), stored, logger)
	router := bridge.NewRouter(relay.EndpointFor(101, engineAddr), bindings, 101, engineAddr, 350000, logger)
	ledgers := ledger.NewRegistry()
	selector := transfer.NewSelector(ledgers,
		transfer.NewERC721Manager(engineAddr, ledgers, 101),
		transfer.NewERC1155Manager(engineAddr, ledgers, 101), logger)
	funds := fund.NewManager(engineAddr, currencies, ledgers,
		fund.NewMemoryPool(big.NewInt(0)), engineAddr, router, big.NewInt(0), logger)

	engine := exchange.New(exchange.Config{
		LocalChainID: 101,
		Address:      engineAddr,
		Nonces:       nonces,
		Currencies:   currencies,
		Executions:   executions,
		Royalties:    royalties,
		Selector:     selector,
		Funds:        funds,
		Router:       router,
		Processed:    processed,
		Logger:       logger,
	})

	payloads := &stubPayloads{}
	server := NewServer(engine, currencies, executions, royalties, bindings, stored, payloads, logger)
	return &fixture{
		server:     server,
		payloads:   payloads,
		nonces:     nonces,
		currencies: currencies,
		executions: executions,
		royalties:  royalties,
		bindings:   bindings,
		stored:     stored,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/metrics", nil).Code)
}

func TestCurrencyWhitelistEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/currencies", gin.H{"address": tokenAddr.Hex()})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, f.currencies.IsWhitelisted(tokenAddr))

	rec = f.do(t, http.MethodGet, "/api/v1/currencies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["currencies"], 1)

	rec = f.do(t, http.MethodPost, "/api/v1/currencies", gin.H{"address": "not-an-address"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, errors.KindValidation, decode(t, rec)["kind"])

	rec = f.do(t, http.MethodDelete, "/api/v1/currencies/"+tokenAddr.Hex(), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, f.currencies.IsWhitelisted(tokenAddr))
}

func TestStrategyEndpoints(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.executions.Register(execution.StandardSaleAddress, execution.NewStandardSale(200)))

	rec := f.do(t, http.MethodGet, "/api/v1/strategies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["strategies"], 1)

	rec = f.do(t, http.MethodDelete, "/api/v1/strategies/"+execution.StandardSaleAddress.Hex(), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, f.executions.IsWhitelisted(execution.StandardSaleAddress))
}

func TestRoyaltyOverrideEndpoints(t *testing.T) {
	f := newFixture(t)
	collection := common.HexToAddress("0x00000000000000000000000000000000000000d1")
	recipient := common.HexToAddress("0x00000000000000000000000000000000000000f5")

	rec := f.do(t, http.MethodPost, "/api/v1/royalties", gin.H{
		"collection": collection.Hex(),
		"recipient":  recipient.Hex(),
		"bps":        300,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Above the configured cap.
	rec = f.do(t, http.MethodPost, "/api/v1/royalties", gin.H{
		"collection": collection.Hex(),
		"recipient":  recipient.Hex(),
		"bps":        1001,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/royalties", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Len(t, body["overrides"], 1)
	assert.EqualValues(t, 1000, body["limit_bps"])

	rec = f.do(t, http.MethodDelete, "/api/v1/royalties/"+collection.Hex(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestBindingEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/bindings", gin.H{
		"kind":            "engine",
		"local_address":   engineAddr.Hex(),
		"remote_chain_id": 202,
		"remote_address":  remoteEngine.Hex(),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	got, err := f.bindings.Lookup(bridge.BindEngine, engineAddr, 202)
	require.NoError(t, err)
	assert.Equal(t, remoteEngine, got)

	rec = f.do(t, http.MethodPost, "/api/v1/bindings", gin.H{
		"kind":            "teleporter",
		"local_address":   engineAddr.Hex(),
		"remote_chain_id": 202,
		"remote_address":  remoteEngine.Hex(),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/bindings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["bindings"], 1)
}

func TestStoredPayloadEndpoints(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.stored.Store(&bridge.StoredPayload{
		SrcChainID: 202,
		SrcAddress: remoteEngine.Hex(),
		DstChainID: 101,
		DstAddress: engineAddr.Hex(),
		Nonce:      4,
		Payload:    []byte("{}"),
	}))

	rec := f.do(t, http.MethodGet, "/api/v1/payloads", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["payloads"], 1)

	rec = f.do(t, http.MethodPost, "/api/v1/payloads/retry", gin.H{
		"src_chain_id": 202,
		"src_address":  remoteEngine.Hex(),
		"dst_address":  engineAddr.Hex(),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/payloads/force-resume", gin.H{
		"src_chain_id": 202,
		"src_address":  remoteEngine.Hex(),
		"dst_address":  engineAddr.Hex(),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, f.payloads.calls, 2)
	assert.Equal(t, pathCall{"retry", 202, remoteEngine, engineAddr}, f.payloads.calls[0])
	assert.Equal(t, pathCall{"force_resume", 202, remoteEngine, engineAddr}, f.payloads.calls[1])

	// Transport failures map through the kind taxonomy.
	f.payloads.err = errors.NewWithKind(errors.KindNotFound).Explain("no stored payload")
	rec = f.do(t, http.MethodPost, "/api/v1/payloads/retry", gin.H{
		"src_chain_id": 202,
		"src_address":  remoteEngine.Hex(),
		"dst_address":  engineAddr.Hex(),
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNonceEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/nonces/"+signerAddr.Hex()+"/cancel-below", gin.H{"min_valid": 5})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/nonces/"+signerAddr.Hex(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 5, decode(t, rec)["min_valid_nonce"])

	// Lowering the floor is rejected.
	rec = f.do(t, http.MethodPost, "/api/v1/nonces/"+signerAddr.Hex()+"/cancel-below", gin.H{"min_valid": 3})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/nonces/"+signerAddr.Hex()+"/cancel", gin.H{"nonces": []uint64{7, 9}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Error(t, f.nonces.IsUsable(signerAddr, 7))
	assert.Error(t, f.nonces.IsUsable(signerAddr, 9))
	assert.NoError(t, f.nonces.IsUsable(signerAddr, 8))

	rec = f.do(t, http.MethodPost, "/api/v1/nonces/"+signerAddr.Hex()+"/cancel", gin.H{"nonces": []uint64{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
