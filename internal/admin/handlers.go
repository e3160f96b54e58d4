package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Aidin1998/omnidex/internal/bridge"
	"github.com/Aidin1998/omnidex/pkg/errors"
)

type addressRequest struct {
	Address string `json:"address" binding:"required"`
}

func (s *Server) listCurrencies(c *gin.Context) {
	list, err := s.currencies.List()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"currencies": list})
}

func (s *Server) addCurrency(c *gin.Context) {
	var req addressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.Validation("invalid body: %v", err))
		return
	}
	addr, ok := parseAddress(c, req.Address)
	if !ok {
		return
	}
	if err := s.currencies.Add(addr); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"address": addr.Hex()})
}

func (s *Server) removeCurrency(c *gin.Context) {
	addr, ok := parseAddress(c, c.Param("address"))
	if !ok {
		return
	}
	if err := s.currencies.Remove(addr); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listStrategies(c *gin.Context) {
	list, err := s.executions.List()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategies": list})
}

// removeStrategy drops a strategy from the whitelist. Registration binds an
// implementation, so it happens in process wiring, not over HTTP.
func (s *Server) removeStrategy(c *gin.Context) {
	addr, ok := parseAddress(c, c.Param("address"))
	if !ok {
		return
	}
	if err := s.executions.Remove(addr); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type royaltyOverrideRequest struct {
	Collection string `json:"collection" binding:"required"`
	Recipient  string `json:"recipient" binding:"required"`
	Bps        uint64 `json:"bps"`
}

func (s *Server) listRoyaltyOverrides(c *gin.Context) {
	list, err := s.royalties.ListOverrides()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"overrides": list, "limit_bps": s.royalties.LimitBps()})
}

func (s *Server) setRoyaltyOverride(c *gin.Context) {
	var req royaltyOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.Validation("invalid body: %v", err))
		return
	}
	collection, ok := parseAddress(c, req.Collection)
	if !ok {
		return
	}
	recipient, ok := parseAddress(c, req.Recipient)
	if !ok {
		return
	}
	if err := s.royalties.SetOverride(collection, recipient, req.Bps); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"collection": collection.Hex(), "bps": req.Bps})
}

func (s *Server) removeRoyaltyOverride(c *gin.Context) {
	collection, ok := parseAddress(c, c.Param("collection"))
	if !ok {
		return
	}
	if err := s.royalties.RemoveOverride(collection); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type bindingRequest struct {
	Kind          string `json:"kind" binding:"required,oneof=engine collection currency"`
	LocalAddress  string `json:"local_address" binding:"required"`
	RemoteChainID uint16 `json:"remote_chain_id" binding:"required"`
	RemoteAddress string `json:"remote_address" binding:"required"`
}

func (s *Server) listBindings(c *gin.Context) {
	list, err := s.bindings.List()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bindings": list})
}

func (s *Server) setBinding(c *gin.Context) {
	var req bindingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.Validation("invalid body: %v", err))
		return
	}
	local, ok := parseAddress(c, req.LocalAddress)
	if !ok {
		return
	}
	remote, ok := parseAddress(c, req.RemoteAddress)
	if !ok {
		return
	}
	if err := s.bindings.Set(bridge.BindingKind(req.Kind), local, req.RemoteChainID, remote); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"kind":            req.Kind,
		"local_address":   local.Hex(),
		"remote_chain_id": req.RemoteChainID,
		"remote_address":  remote.Hex(),
	})
}

func (s *Server) listStoredPayloads(c *gin.Context) {
	list, err := s.stored.List()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payloads": list})
}

type pathRequest struct {
	SrcChainID uint16 `json:"src_chain_id" binding:"required"`
	SrcAddress string `json:"src_address" binding:"required"`
	DstAddress string `json:"dst_address" binding:"required"`
}

func (s *Server) retryPayload(c *gin.Context) {
	var req pathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.Validation("invalid body: %v", err))
		return
	}
	src, ok := parseAddress(c, req.SrcAddress)
	if !ok {
		return
	}
	dst, ok := parseAddress(c, req.DstAddress)
	if !ok {
		return
	}
	if err := s.payloads.RetryPayload(c.Request.Context(), req.SrcChainID, src, dst); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "retried"})
}

func (s *Server) forceResume(c *gin.Context) {
	var req pathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.Validation("invalid body: %v", err))
		return
	}
	src, ok := parseAddress(c, req.SrcAddress)
	if !ok {
		return
	}
	dst, ok := parseAddress(c, req.DstAddress)
	if !ok {
		return
	}
	if err := s.payloads.ForceResumeReceive(req.SrcChainID, src, dst); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resumed"})
}

func (s *Server) nonceState(c *gin.Context) {
	signer, ok := parseAddress(c, c.Param("signer"))
	if !ok {
		return
	}
	minValid, err := s.engine.MinValidNonce(signer)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signer": signer.Hex(), "min_valid_nonce": minValid})
}

type cancelBelowRequest struct {
	MinValid uint64 `json:"min_valid" binding:"required"`
}

func (s *Server) cancelAllBelow(c *gin.Context) {
	signer, ok := parseAddress(c, c.Param("signer"))
	if !ok {
		return
	}
	var req cancelBelowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.Validation("invalid body: %v", err))
		return
	}
	if err := s.engine.CancelAllOrdersBelow(signer, req.MinValid); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signer": signer.Hex(), "min_valid_nonce": req.MinValid})
}

type cancelNoncesRequest struct {
	Nonces []uint64 `json:"nonces" binding:"required,min=1"`
}

func (s *Server) cancelNonces(c *gin.Context) {
	signer, ok := parseAddress(c, c.Param("signer"))
	if !ok {
		return
	}
	var req cancelNoncesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.Validation("invalid body: %v", err))
		return
	}
	if err := s.engine.CancelOrders(signer, req.Nonces...); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signer": signer.Hex(), "cancelled": len(req.Nonces)})
}
