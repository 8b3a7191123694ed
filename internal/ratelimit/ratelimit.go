// Package ratelimit enforces per-action sliding-window abuse controls over an
// append-only attempt log. Counters are windowed queries against the store, so
// limits hold across multiple service instances.
package ratelimit

import (
	"context"
	"time"

	"payment_engine/internal/config"
	"payment_engine/internal/domain"

	"gorm.io/gorm" // GORM ORM library
)

// Denial reasons
const (
	ReasonRateLimited   = "rate_limited"
	ReasonIPRateLimited = "ip_rate_limited"
	ReasonNoLimit       = "no_limit_configured"
)

// Result of a rate limit check.
type Result struct {
	Allowed     bool      `json:"allowed"`
	Reason      string    `json:"reason,omitempty"`
	Attempts    int64     `json:"attempts"`
	MaxAttempts int64     `json:"max_attempts"`
	Remaining   int64     `json:"remaining"`
	ResetAt     time.Time `json:"reset_at,omitempty"`
}

// Limiter counts attempts inside action-specific windows.
type Limiter struct {
	db  *gorm.DB
	cfg config.RateLimitConfig
	now func() time.Time
}

// NewLimiter builds a limiter from the configured rule table.
func NewLimiter(db *gorm.DB, cfg config.RateLimitConfig) *Limiter {
	return &Limiter{db: db, cfg: cfg, now: time.Now}
}

// WithClock overrides the time source. Test hook.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Check counts matching attempts within the action's window for the identifier
// and, when supplied, the IP, independently. Either cap exceeding denies with
// a distinguishing reason.
func (l *Limiter) Check(ctx context.Context, identifier, action, ipAddress string) (Result, error) {
	rule, ok := l.cfg.Rules[action]
	if !ok {
		return Result{Allowed: true, Reason: ReasonNoLimit}, nil
	}
	windowStart := l.now().Add(-rule.Window)

	if ipAddress != "" {
		var ipCount int64
		err := l.db.WithContext(ctx).Model(&domain.RateLimitRecord{}).
			Where("ip_address = ? AND action = ? AND timestamp >= ?", ipAddress, action, windowStart).
			Count(&ipCount).Error
		if err != nil {
			return Result{}, err
		}
		if ipCount >= rule.MaxAttempts {
			return Result{
				Allowed:     false,
				Reason:      ReasonIPRateLimited,
				Attempts:    ipCount,
				MaxAttempts: rule.MaxAttempts,
				ResetAt:     windowStart.Add(rule.Window),
			}, nil
		}
	}

	var count int64
	err := l.db.WithContext(ctx).Model(&domain.RateLimitRecord{}).
		Where("identifier = ? AND action = ? AND timestamp >= ?", identifier, action, windowStart).
		Count(&count).Error
	if err != nil {
		return Result{}, err
	}
	if count >= rule.MaxAttempts {
		return Result{
			Allowed:     false,
			Reason:      ReasonRateLimited,
			Attempts:    count,
			MaxAttempts: rule.MaxAttempts,
			ResetAt:     windowStart.Add(rule.Window),
		}, nil
	}
	return Result{
		Allowed:     true,
		Attempts:    count,
		MaxAttempts: rule.MaxAttempts,
		Remaining:   rule.MaxAttempts - count,
	}, nil
}

// Record appends an attempt and opportunistically prunes records older than
// twice the action's window.
func (l *Limiter) Record(ctx context.Context, identifier, action, ipAddress string, success bool) error {
	rec := domain.RateLimitRecord{
		Identifier: identifier,
		Action:     action,
		IPAddress:  ipAddress,
		Success:    success,
		Timestamp:  l.now(),
	}
	if err := l.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return err
	}
	if rule, ok := l.cfg.Rules[action]; ok {
		cutoff := l.now().Add(-2 * rule.Window)
		l.db.WithContext(ctx).
			Where("action = ? AND timestamp < ?", action, cutoff).
			Delete(&domain.RateLimitRecord{})
	}
	return nil
}

// Status reports current window usage for every configured action of an
// identifier. Read API for the admin surface.
func (l *Limiter) Status(ctx context.Context, identifier string) (map[string]Result, error) {
	out := make(map[string]Result, len(l.cfg.Rules))
	for action, rule := range l.cfg.Rules {
		windowStart := l.now().Add(-rule.Window)
		var count int64
		err := l.db.WithContext(ctx).Model(&domain.RateLimitRecord{}).
			Where("identifier = ? AND action = ? AND timestamp >= ?", identifier, action, windowStart).
			Count(&count).Error
		if err != nil {
			return nil, err
		}
		out[action] = Result{
			Allowed:     count < rule.MaxAttempts,
			Attempts:    count,
			MaxAttempts: rule.MaxAttempts,
			Remaining:   max(rule.MaxAttempts-count, 0),
		}
	}
	return out, nil
}
