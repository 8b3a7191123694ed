// Package seclog records security events. Every authorization denial writes a
// row here before the decision is returned, so no decision is unobservable
// after the fact.
package seclog

import (
	"context"
	"time"

	"payment_engine/internal/domain"

	"github.com/sirupsen/logrus" // Logging library
	"gorm.io/gorm"               // GORM ORM library
)

// Severities
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Logger persists security events and mirrors them to the application log.
type Logger struct {
	db  *gorm.DB
	now func() time.Time
}

// NewLogger builds a security event logger.
func NewLogger(db *gorm.DB) *Logger {
	return &Logger{db: db, now: time.Now}
}

// LogEvent records one security event with its request metadata.
func (l *Logger) LogEvent(ctx context.Context, eventType, severity, userID string, details map[string]any, meta domain.RequestMetadata) {
	entry := domain.SecurityLog{
		EventType: eventType,
		Severity:  severity,
		UserID:    userID,
		Details:   details,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		DeviceID:  meta.DeviceID,
		Timestamp: l.now(),
	}
	if err := l.db.WithContext(ctx).Create(&entry).Error; err != nil {
		// The store write is the primary record; surface its failure loudly.
		logrus.WithFields(logrus.Fields{"event_type": eventType, "error": err.Error()}).
			Error("Failed to persist security event")
	}

	fields := logrus.Fields{
		"event_type": eventType,
		"severity":   severity,
		"user_id":    userID,
	}
	switch severity {
	case SeverityCritical, SeverityHigh:
		logrus.WithFields(fields).Error("Security event")
	case SeverityMedium:
		logrus.WithFields(fields).Warn("Security event")
	default:
		logrus.WithFields(fields).Info("Security event")
	}
}

// LogBiometricEvent records a biometric authentication outcome. Failures are
// high severity.
func (l *Logger) LogBiometricEvent(ctx context.Context, eventType, userID, deviceID string, success bool, details map[string]any, meta domain.RequestMetadata) {
	severity := SeverityLow
	if !success {
		severity = SeverityHigh
	}
	if details == nil {
		details = map[string]any{}
	}
	details["device_id"] = deviceID
	details["success"] = success
	l.LogEvent(ctx, "biometric_"+eventType, severity, userID, details, meta)
}

// LogPaymentEvent records a payment pipeline outcome.
func (l *Logger) LogPaymentEvent(ctx context.Context, eventType, userID string, details map[string]any, meta domain.RequestMetadata) {
	l.LogEvent(ctx, "payment_"+eventType, SeverityMedium, userID, details, meta)
}
