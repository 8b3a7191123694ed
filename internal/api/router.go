// Package api exposes the HTTP surface: the payment pipeline, the nonce
// issuer, wallet reads, queue polling and the admin reporting endpoints.
package api

import (
	"net/http"

	"payment_engine/internal/audit"
	"payment_engine/internal/biometric"
	"payment_engine/internal/config"
	"payment_engine/internal/engine"
	"payment_engine/internal/metrics"
	"payment_engine/internal/middleware"
	"payment_engine/internal/nonce"
	"payment_engine/internal/queue"
	"payment_engine/internal/ratelimit"

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/redis/go-redis/v9" // Redis client
	"gorm.io/gorm"                 // GORM ORM library
)

// Deps are the constructed components the handlers close over.
type Deps struct {
	DB       *gorm.DB
	RDB      *redis.Client
	Cfg      *config.Config
	Engine   *engine.Engine
	Nonces   *nonce.Service
	Verifier *biometric.Verifier
	Chain    *audit.Chain
	Queue    *queue.Manager
	Limiter  *ratelimit.Limiter
}

// NewRouter wires every route with its middleware.
func NewRouter(d Deps) *gin.Engine {
	r := gin.Default()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	auth := r.Group("/")
	auth.Use(middleware.JWTAuthMiddleware(d.Cfg.JWTSecret))
	{
		auth.POST("/nonce", IssueNonce(d.Nonces, d.Limiter))
		auth.POST("/attestation/validate", ValidateAttestation(d.Verifier))

		auth.POST("/payments/p2p", ProcessPayment(d.Engine))
		auth.POST("/payments/scheduled", SchedulePayment(d.Engine))

		auth.GET("/wallet/:account_id", GetWallet(d.DB, d.RDB))
		auth.GET("/wallet/:account_id/transactions", GetWalletTransactions(d.DB))

		auth.GET("/queue", GetUserQueueItems(d.Queue))
		auth.GET("/queue/:queue_id", GetQueueItem(d.Queue))
		auth.DELETE("/queue/:queue_id", CancelQueueItem(d.Queue))
	}

	admin := r.Group("/admin")
	admin.Use(middleware.JWTAuthMiddleware(d.Cfg.JWTSecret), middleware.AdminOnlyMiddleware(d.DB))
	{
		admin.GET("/audit/verify", VerifyAuditChain(d.Chain))
		admin.POST("/audit/reconcile", ReconcileAudit(d.Chain))
		admin.GET("/queue", GetQueueStatus(d.Queue))
		admin.POST("/queue/cleanup", CleanupQueue(d.Queue))
		admin.GET("/ratelimit/:identifier", GetRateLimitStatus(d.Limiter))
	}

	return r
}
