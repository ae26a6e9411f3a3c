package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/SubzoneRegistry/internal/identity"
	"github.com/jmerrifield20/SubzoneRegistry/internal/ledger"
	"go.uber.org/zap"
)

// LedgerHandler exposes read-only HTTP endpoints for the audit ledger.
// All routes require an admin actor.
type LedgerHandler struct {
	ledger ledger.Ledger
	logger *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(l ledger.Ledger, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: l, logger: logger}
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	l := rg.Group("/ledger", identity.RequireAdmin())
	{
		l.GET("", h.Overview)
		l.GET("/verify", h.Verify)
		l.GET("/:index", h.GetEntry)
	}
}

// Overview handles GET /ledger and returns the chain length and root hash.
func (h *LedgerHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()

	count, err := h.ledger.Len(ctx)
	if err != nil {
		h.logger.Error("ledger Len", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to query ledger", "code": "upstream_unavailable"})
		return
	}

	root, err := h.ledger.Root(ctx)
	if err != nil {
		h.logger.Error("ledger Root", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to query ledger root", "code": "upstream_unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": count,
		"root":    root,
	})
}

// Verify handles GET /ledger/verify and walks the full chain.
func (h *LedgerHandler) Verify(c *gin.Context) {
	if err := h.ledger.Verify(c.Request.Context()); err != nil {
		h.logger.Warn("ledger integrity check failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{
			"valid": false,
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// GetEntry handles GET /ledger/:index.
func (h *LedgerHandler) GetEntry(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("index"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index must be a non-negative integer", "code": "invalid_request"})
		return
	}

	entry, err := h.ledger.Get(c.Request.Context(), idx)
	if errors.Is(err, ledger.ErrEntryNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found", "code": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("ledger Get", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to query ledger", "code": "upstream_unavailable"})
		return
	}
	c.JSON(http.StatusOK, entry)
}
