package domain

import "time"

// RateLimitRecord Model. Append-only attempt log windowed by action-specific
// TTL; counted, never updated.
type RateLimitRecord struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	Identifier string    `gorm:"index:idx_rl_identifier;size:64;not null" json:"identifier"`
	Action     string    `gorm:"index:idx_rl_identifier;size:32;not null" json:"action"`
	IPAddress  string    `gorm:"index;size:45" json:"ip_address,omitempty"`
	Success    bool      `json:"success"`
	Timestamp  time.Time `gorm:"index;not null" json:"timestamp"`
}
