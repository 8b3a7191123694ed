// Package nonce issues and consumes the single-use challenge tokens that bind
// one biometric authorization attempt to one payment.
package nonce

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"payment_engine/internal/config"
	"payment_engine/internal/domain"

	"gorm.io/gorm" // GORM ORM library
)

// Service owns the Nonce lifecycle.
type Service struct {
	db  *gorm.DB
	cfg config.NonceConfig
	now func() time.Time // Injected for deterministic tests
}

// NewService builds a nonce service with the given TTL configuration.
func NewService(db *gorm.DB, cfg config.NonceConfig) *Service {
	return &Service{db: db, cfg: cfg, now: time.Now}
}

// WithClock overrides the time source. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Issue generates a cryptographically random token bound to (user, device) and
// stores it unused with expires_at = now + TTL.
func (s *Service) Issue(ctx context.Context, userID, deviceID string) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := hex.EncodeToString(buf)
	n := domain.Nonce{
		Nonce:     token,
		UserID:    userID,
		DeviceID:  deviceID,
		ExpiresAt: s.now().Add(s.cfg.TTL),
		Used:      false,
		CreatedAt: s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&n).Error; err != nil {
		return "", err
	}
	return token, nil
}

// VerifyAndConsume atomically flips an unused, unexpired nonce to used. The
// check and the set are one conditional UPDATE; concurrent calls for the same
// nonce cannot both observe RowsAffected == 1.
func (s *Service) VerifyAndConsume(ctx context.Context, token, userID, deviceID string) bool {
	res := s.db.WithContext(ctx).Model(&domain.Nonce{}).
		Where("nonce = ? AND user_id = ? AND device_id = ? AND used = ? AND expires_at > ?",
			token, userID, deviceID, false, s.now()).
		Update("used", true)
	if res.Error != nil {
		return false
	}
	return res.RowsAffected == 1
}

// PurgeExpired removes nonces past their expiry. Housekeeping; consumed nonces
// inside their TTL are kept so replays keep hitting used=true.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at <= ?", s.now()).
		Delete(&domain.Nonce{})
	return res.RowsAffected, res.Error
}
