package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	readyTimeout       = 2 * time.Second
	defaultHistorySize = 20
	maxHistorySize     = 100
)

// Health returns basic liveness status
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "tipbot",
		"timestamp": s.clock.Now().UTC(),
	})
}

// Ready reports whether the ledger store answers queries
func (s *Server) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()

	if _, err := s.store.ListTransfers(ctx, "", 1); err != nil {
		zap.L().Warn("Readiness check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"error":  "ledger store unreachable",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": s.clock.Now().UTC(),
	})
}

// Audit returns the conservation report. An unbalanced ledger answers 409.
func (s *Server) Audit(c *gin.Context) {
	audit, err := s.store.Audit(c.Request.Context())
	if err != nil {
		zap.L().Error("Ledger audit failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audit failed"})
		return
	}

	status := http.StatusOK
	if !audit.Balanced() {
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{
		"balanced": audit.Balanced(),
		"expected": audit.Expected().String(),
		"audit":    audit,
	})
}

// Account returns one account and its most recent transfers
func (s *Server) Account(c *gin.Context) {
	id := c.Param("id")
	limit := defaultHistorySize
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistorySize {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
			return
		}
		limit = n
	}

	account, err := s.store.GetAccount(c.Request.Context(), id)
	if err != nil {
		zap.L().Error("Account lookup failed", zap.String("account_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "account lookup failed"})
		return
	}
	if account == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}

	transfers, err := s.store.ListTransfers(c.Request.Context(), id, limit)
	if err != nil {
		zap.L().Error("Transfer history lookup failed", zap.String("account_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "transfer lookup failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"account":   account,
		"transfers": transfers,
	})
}
