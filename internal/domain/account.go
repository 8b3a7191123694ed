package domain

import "time"

// Account statuses
const (
	AccountActive    = "active"
	AccountSuspended = "suspended"
	AccountClosed    = "closed"
)

// Account Model. Balances are integer minor units, never floating point, and
// are mutated only by the ledger engine inside a commit.
type Account struct {
	AccountID    string    `gorm:"primaryKey;size:64" json:"account_id"` // Account identifier
	UserID       string    `gorm:"index;size:64" json:"user_id"`         // Owning user
	Currency     string    `gorm:"size:8;not null" json:"currency"`      // ISO currency code
	BalanceMinor int64     `gorm:"not null;default:0" json:"balance_minor"`
	Status       string    `gorm:"size:16;not null;default:active" json:"status"`
	LastUpdated  time.Time `json:"last_updated"` // Set on every balance mutation
}
