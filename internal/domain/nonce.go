package domain

import "time"

// Nonce Model. Single-use challenge token bound to (user, device). Transitions
// used=false -> used=true exactly once; expired or consumed nonces are
// permanently rejected.
type Nonce struct {
	Nonce     string    `gorm:"primaryKey;size:64" json:"nonce"`
	UserID    string    `gorm:"index;size:64;not null" json:"user_id"`
	DeviceID  string    `gorm:"size:64;not null" json:"device_id"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`
	Used      bool      `gorm:"not null;default:false" json:"used"`
	CreatedAt time.Time `json:"created_at"`
}
