package domain

import "time"

// User Model. Profile and KYC state consumed by the compliance gate; account
// registration itself is owned by an external collaborator.
type User struct {
	UserID           string     `gorm:"primaryKey;size:64" json:"user_id"`
	Email            string     `gorm:"index;size:128" json:"email"`
	Phone            string     `gorm:"index;size:32" json:"phone"`
	WalletID         string     `gorm:"size:64" json:"wallet_id"` // Primary account
	Role             string     `gorm:"size:16;default:user" json:"role"`
	FullName         string     `gorm:"size:128" json:"full_name"`
	DateOfBirth      string     `gorm:"size:16" json:"date_of_birth"`
	Address          string     `gorm:"size:256" json:"address"`
	PhoneVerified    bool       `json:"phone_verified"`
	EmailVerified    bool       `json:"email_verified"`
	IdentityVerified bool       `json:"identity_verified"`
	KYCVerifiedAt    *time.Time `json:"kyc_verified_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Consent Model. Active consent for a specific processing purpose.
type Consent struct {
	ID          uint       `gorm:"primaryKey" json:"-"`
	UserID      string     `gorm:"index;size:64;not null" json:"user_id"`
	ConsentType string     `gorm:"size:64;not null" json:"consent_type"`
	Status      string     `gorm:"size:16;not null" json:"status"` // active, revoked
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// SanctionEntry Model. One row per sanctioned identity on the screening list.
type SanctionEntry struct {
	ID     uint   `gorm:"primaryKey" json:"-"`
	UserID string `gorm:"index;size:64" json:"user_id,omitempty"`
	Email  string `gorm:"index;size:128" json:"email,omitempty"`
	Phone  string `gorm:"index;size:32" json:"phone,omitempty"`
	Type   string `gorm:"size:32" json:"type"` // Sanction list category
}
