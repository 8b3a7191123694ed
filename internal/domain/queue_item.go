package domain

import "time"

// Queue item statuses
const (
	QueuePending    = "pending"
	QueueProcessing = "processing"
	QueueCompleted  = "completed"
	QueueFailed     = "failed"
	QueueRetry      = "retry"
	QueueCancelled  = "cancelled"
)

// QueuePayload is the embedded transaction a queue item settles.
type QueuePayload struct {
	UserID            string          `json:"user_id"`
	FromAccount       string          `json:"from_account"`
	ToAccount         string          `json:"to_account"`
	AmountMinor       int64           `json:"amount_minor"`
	Currency          string          `json:"currency"`
	BiometricVerified bool            `json:"biometric_verified"`
	Metadata          RequestMetadata `json:"request_metadata"`
}

// QueueError is one failed attempt in an item's error log.
type QueueError struct {
	Attempt   int       `json:"attempt"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// QueueItem Model. State machine:
// pending -> processing -> {completed | retry | failed}, pending|retry -> cancelled.
type QueueItem struct {
	QueueID       string       `gorm:"primaryKey;size:36" json:"queue_id"`
	UserID        string       `gorm:"index;size:64" json:"user_id"`
	Payload       QueuePayload `gorm:"serializer:json" json:"transaction_data"`
	Status        string       `gorm:"size:16;not null;index" json:"status"`
	Priority      int          `gorm:"not null;default:5" json:"priority"` // 1 is highest
	Attempts      int          `gorm:"not null;default:0" json:"attempts"`
	ScheduledAt   time.Time    `gorm:"index;not null" json:"scheduled_at"`
	LastAttemptAt *time.Time   `json:"last_attempt_at,omitempty"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
	ResultTxnID   string       `gorm:"size:36" json:"result_txn_id,omitempty"`
	ErrorLog      []QueueError `gorm:"serializer:json" json:"error_log"`
	CreatedAt     time.Time    `gorm:"index" json:"created_at"`
}
