package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"payment_engine/internal/api"        // HTTP surface
	"payment_engine/internal/audit"      // Audit chain
	"payment_engine/internal/biometric"  // Signature + attestation verification
	"payment_engine/internal/compliance" // Regulatory gate
	"payment_engine/internal/config"     // Configuration
	"payment_engine/internal/engine"     // Payment pipeline
	"payment_engine/internal/fraud"      // Risk scoring
	"payment_engine/internal/ledger"     // Atomic commits
	"payment_engine/internal/metrics"    // Prometheus instruments
	"payment_engine/internal/nonce"      // Challenge tokens
	"payment_engine/internal/notify"     // Notification boundary
	"payment_engine/internal/queue"      // Deferred settlement
	"payment_engine/internal/ratelimit"  // Abuse controls
	"payment_engine/internal/seclog"     // Security event log

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/redis/go-redis/v9" // Redis client
	"github.com/sirupsen/logrus"   // Logrus for structured logging
	"gorm.io/driver/mysql"         // MySQL driver for GORM
	"gorm.io/gorm"                 // GORM ORM library
)

// Main function to set up and run the payment engine
func main() {
	cfg := config.LoadConfig() // Load configuration

	// Setup logger
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// Setup Data Source Name (DSN) and connect to the database
	dsn := cfg.DBUser + ":" + cfg.DBPassword + "@tcp(" + cfg.DBHost + ":" + cfg.DBPort + ")/" + cfg.DBName + "?parseTime=true"
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		logrus.Fatalf("failed to connect to DB: %v", err)
	}

	// Setup Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr, // Redis server address
		Password: cfg.RedisPass, // Redis password
		DB:       cfg.RedisDB,   // Redis database number
	})
	if _, err = redisClient.Ping(context.Background()).Result(); err != nil {
		logrus.Fatalf("failed to connect to Redis: %v", err)
	}

	// Set Mode to Release if in production
	if cfg.IsProd {
		gin.SetMode(gin.ReleaseMode)
	}

	// Build the pipeline components
	nonces := nonce.NewService(db, cfg.Nonce)
	verifier := biometric.NewVerifier(cfg.Biometric)
	chain := audit.NewChain(db)
	limiter := ratelimit.NewLimiter(db, cfg.RateLimits)
	eng := engine.New(engine.Deps{
		DB:       db,
		Config:   cfg,
		Nonces:   nonces,
		Verifier: verifier,
		Scorer:   fraud.NewScorer(db, cfg.Risk),
		Gate:     compliance.DefaultGate(db, cfg.Compliance),
		Ledger:   ledger.NewEngine(db, chain).WithCache(redisClient),
		Limiter:  limiter,
		Security: seclog.NewLogger(db),
		Notifier: notify.NewNotifier(db),
	})
	qm := queue.NewManager(db, cfg.Queue, eng.SettleQueued)
	eng.AttachQueue(qm)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go qm.Run(ctx) // Settlement scheduler
	go housekeeping(ctx, nonces, chain, qm)

	r := api.NewRouter(api.Deps{
		DB:       db,
		RDB:      redisClient,
		Cfg:      cfg,
		Engine:   eng,
		Nonces:   nonces,
		Verifier: verifier,
		Chain:    chain,
		Queue:    qm,
		Limiter:  limiter,
	})
	if err := r.SetTrustedProxies([]string{"127.0.0.1"}); err != nil {
		logrus.Fatalf("failed to set trusted proxies: %v", err)
	}

	logrus.Info("Payment engine running on " + cfg.AppPort)
	if err := r.Run(":" + cfg.AppPort); err != nil {
		logrus.Fatalf("server exited: %v", err)
	}
}

// housekeeping runs the periodic sweeps: expired nonce purge, audit
// reconciliation, queue retention and the queue depth gauge.
func housekeeping(ctx context.Context, nonces *nonce.Service, chain *audit.Chain, qm *queue.Manager) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := nonces.PurgeExpired(ctx); err != nil {
				logrus.WithField("error", err.Error()).Warn("Nonce purge failed")
			} else if n > 0 {
				logrus.WithField("purged", n).Info("Expired nonces purged")
			}
			if n, err := chain.ReconcilePending(ctx); err != nil {
				logrus.WithField("error", err.Error()).Warn("Audit reconciliation failed")
			} else if n > 0 {
				logrus.WithField("reconciled", n).Info("Audit blocks reconciled")
			}
			if n, err := qm.CleanupOld(ctx); err != nil {
				logrus.WithField("error", err.Error()).Warn("Queue cleanup failed")
			} else if n > 0 {
				logrus.WithField("removed", n).Info("Stale queue items removed")
			}
			if status, err := qm.GetStatus(ctx); err == nil {
				metrics.QueueDepth.Set(float64(status.Depth))
			}
		}
	}
}
