package domain

import "time"

// Device Model. Enrolled by the external device registry; the engine only
// reads the public key and registration time.
type Device struct {
	DeviceID  string    `gorm:"primaryKey;size:64" json:"device_id"`
	UserID    string    `gorm:"index;size:64;not null" json:"user_id"`
	PublicKey string    `gorm:"type:text;not null" json:"public_key"` // PEM-encoded
	CreatedAt time.Time `json:"created_at"`
}
