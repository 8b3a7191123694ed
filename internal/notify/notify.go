// Package notify is the boundary to the notification delivery collaborator.
// Events are persisted as structured rows with a priority and channel list;
// actual push/SMS/email delivery is external.
package notify

import (
	"context"
	"fmt"
	"time"

	"payment_engine/internal/domain"

	"github.com/sirupsen/logrus" // Logging library
	"gorm.io/gorm"               // GORM ORM library
)

// Priorities
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Channels
const (
	ChannelPush  = "push"
	ChannelSMS   = "sms"
	ChannelEmail = "email"
	ChannelInApp = "in_app"
)

// Notifier emits structured events for the delivery collaborator.
type Notifier struct {
	db  *gorm.DB
	now func() time.Time
}

// NewNotifier builds a notifier.
func NewNotifier(db *gorm.DB) *Notifier {
	return &Notifier{db: db, now: time.Now}
}

func (n *Notifier) create(ctx context.Context, note domain.Notification) {
	note.CreatedAt = n.now()
	if err := n.db.WithContext(ctx).Create(&note).Error; err != nil {
		logrus.WithFields(logrus.Fields{"kind": note.Kind, "user_id": note.UserID, "error": err.Error()}).
			Error("Failed to persist notification")
		return
	}
	logrus.WithFields(logrus.Fields{"kind": note.Kind, "user_id": note.UserID, "priority": note.Priority}).
		Info("Notification queued")
}

// SendFraudAlert emits an immediate high-priority alert for a blocked payment.
func (n *Notifier) SendFraudAlert(ctx context.Context, userID string, riskScore float64, riskFactors []string, amountMinor int64, toAccount string) {
	n.create(ctx, domain.Notification{
		UserID:   userID,
		Kind:     "fraud_alert",
		Title:    "Suspicious transaction blocked",
		Message:  fmt.Sprintf("A transfer of %d minor units to %s was blocked", amountMinor, toAccount),
		Priority: PriorityCritical,
		Channels: []string{ChannelPush, ChannelSMS, ChannelInApp},
		Data: map[string]any{
			"risk_score":   riskScore,
			"risk_factors": riskFactors,
			"amount_minor": amountMinor,
			"to_account":   toAccount,
		},
	})
}

// SendTransactionNotification emits the terminal outcome of a payment.
func (n *Notifier) SendTransactionNotification(ctx context.Context, userID, txnID string, amountMinor int64, currency, toAccount string, success bool, errCode string) {
	kind := "transaction_completed"
	title := "Payment sent"
	priority := PriorityMedium
	message := fmt.Sprintf("Sent %d %s to %s", amountMinor, currency, toAccount)
	if !success {
		kind = "transaction_failed"
		title = "Payment failed"
		priority = PriorityHigh
		message = fmt.Sprintf("Transfer of %d %s to %s failed: %s", amountMinor, currency, toAccount, errCode)
	}
	n.create(ctx, domain.Notification{
		UserID:   userID,
		Kind:     kind,
		Title:    title,
		Message:  message,
		Priority: priority,
		Channels: []string{ChannelPush, ChannelInApp},
		Data: map[string]any{
			"txn_id":       txnID,
			"amount_minor": amountMinor,
			"currency":     currency,
			"to_account":   toAccount,
			"error":        errCode,
		},
	})
}

// SendSecurityNotification emits a security event for user visibility.
func (n *Notifier) SendSecurityNotification(ctx context.Context, userID, title, message string) {
	n.create(ctx, domain.Notification{
		UserID:   userID,
		Kind:     "security",
		Title:    title,
		Message:  message,
		Priority: PriorityHigh,
		Channels: []string{ChannelPush, ChannelEmail, ChannelInApp},
	})
}
