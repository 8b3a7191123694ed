package api

import (
	"net/http"

	"payment_engine/internal/audit"
	"payment_engine/internal/metrics"
	"payment_engine/internal/queue"
	"payment_engine/internal/ratelimit"

	"github.com/gin-gonic/gin" // Gin web framework
)

// VerifyAuditChain walks the full audit chain and reports integrity.
func VerifyAuditChain(chain *audit.Chain) gin.HandlerFunc {
	return func(c *gin.Context) {
		valid, err := chain.VerifyChain(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Chain verification failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"valid": valid})
	}
}

// ReconcileAudit sweeps committed transactions missing an audit block.
func ReconcileAudit(chain *audit.Chain) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := chain.ReconcilePending(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Reconciliation failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"reconciled": n})
	}
}

// GetQueueStatus reports per-state queue counts.
func GetQueueStatus(m *queue.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := m.GetStatus(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load queue status"})
			return
		}
		metrics.QueueDepth.Set(float64(status.Depth))
		c.JSON(http.StatusOK, status)
	}
}

// CleanupQueue reaps terminal queue items past retention.
func CleanupQueue(m *queue.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		removed, err := m.CleanupOld(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Queue cleanup failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"removed": removed})
	}
}

// GetRateLimitStatus reports window usage for every configured action of an
// identifier.
func GetRateLimitStatus(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := limiter.Status(c.Request.Context(), c.Param("identifier"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load rate limit status"})
			return
		}
		c.JSON(http.StatusOK, status)
	}
}
