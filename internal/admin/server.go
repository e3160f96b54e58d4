// Package admin is the operator HTTP surface: whitelists, remote bindings,
// royalty overrides, nonce state, and the stored-payload recovery controls.
// It has no user-facing trading endpoints; fills enter through the engine.
package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Aidin1998/omnidex/internal/bridge"
	"github.com/Aidin1998/omnidex/internal/currency"
	"github.com/Aidin1998/omnidex/internal/exchange"
	"github.com/Aidin1998/omnidex/internal/execution"
	"github.com/Aidin1998/omnidex/internal/royalty"
	"github.com/Aidin1998/omnidex/pkg/errors"
)

// PayloadController is the transport's recovery surface for blocked paths.
type PayloadController interface {
	RetryPayload(ctx context.Context, srcChainID uint16, srcAddress common.Address, dstAddress common.Address) error
	ForceResumeReceive(srcChainID uint16, srcAddress common.Address, dstAddress common.Address) error
}

// Server wires the operator API.
type Server struct {
	router     *gin.Engine
	engine     *exchange.Engine
	currencies *currency.Manager
	executions *execution.Manager
	royalties  *royalty.FeeManager
	bindings   *bridge.Bindings
	stored     *bridge.StoredPayloadStore
	payloads   PayloadController
	logger     *zap.Logger
}

// NewServer builds the router with all operator routes registered.
func NewServer(
	engine *exchange.Engine,
	currencies *currency.Manager,
	executions *execution.Manager,
	royalties *royalty.FeeManager,
	bindings *bridge.Bindings,
	stored *bridge.StoredPayloadStore,
	payloads PayloadController,
	logger *zap.Logger,
) *Server {
	s := &Server{
		engine:     engine,
		currencies: currencies,
		executions: executions,
		royalties:  royalties,
		bindings:   bindings,
		stored:     stored,
		payloads:   payloads,
		logger:     logger.Named("admin"),
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(engine.MetricsRegistry(), promhttp.HandlerOpts{})))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/currencies", s.listCurrencies)
		v1.POST("/currencies", s.addCurrency)
		v1.DELETE("/currencies/:address", s.removeCurrency)

		v1.GET("/strategies", s.listStrategies)
		v1.DELETE("/strategies/:address", s.removeStrategy)

		v1.GET("/royalties", s.listRoyaltyOverrides)
		v1.POST("/royalties", s.setRoyaltyOverride)
		v1.DELETE("/royalties/:collection", s.removeRoyaltyOverride)

		v1.GET("/bindings", s.listBindings)
		v1.POST("/bindings", s.setBinding)

		v1.GET("/payloads", s.listStoredPayloads)
		v1.POST("/payloads/retry", s.retryPayload)
		v1.POST("/payloads/force-resume", s.forceResume)

		v1.GET("/nonces/:signer", s.nonceState)
		v1.POST("/nonces/:signer/cancel-below", s.cancelAllBelow)
		v1.POST("/nonces/:signer/cancel", s.cancelNonces)
	}

	s.router = router
	return s
}

// Router exposes the gin engine for serving and tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	s.logger.Info("admin api listening", zap.String("addr", addr))
	return s.router.Run(addr)
}

// statusFor maps error kinds onto HTTP statuses.
func statusFor(err error) int {
	switch errors.KindOf(err) {
	case errors.KindValidation, errors.KindConfig:
		return http.StatusBadRequest
	case errors.KindNotFound, errors.KindRemoteBindingMissing:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error(), "kind": errors.KindOf(err)})
}

func parseAddress(c *gin.Context, raw string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		fail(c, errors.Validation("invalid address %q", raw))
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}
