package domain

import "time"

// Transaction statuses
const (
	TxnPending = "pending"
	TxnSuccess = "success"
	TxnFailed  = "failed"
)

// Ledger entry directions
const (
	EntryDebit  = "debit"
	EntryCredit = "credit"
)

// ComplianceSnapshot records the gate results frozen onto a transaction.
type ComplianceSnapshot struct {
	KYCVerified     bool     `json:"kyc_verified"`
	AMLClear        bool     `json:"aml_clear"`
	LimitsValidated bool     `json:"limits_validated"`
	Flags           []string `json:"flags,omitempty"` // e.g. high_amount
}

// RequestMetadata is the caller-supplied context captured with a transaction.
type RequestMetadata struct {
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
}

// Transaction Model. Immutable after terminal status except for attaching the
// audit block hash once the transaction is folded into the audit chain.
type Transaction struct {
	TxnID             string             `gorm:"primaryKey;size:36" json:"txn_id"`
	Type              string             `gorm:"size:16;not null" json:"type"` // p2p, merchant, scheduled
	FromAccount       string             `gorm:"index;size:64;not null" json:"from_account"`
	ToAccount         string             `gorm:"index;size:64;not null" json:"to_account"`
	AmountMinor       int64              `gorm:"not null" json:"amount_minor"`
	Currency          string             `gorm:"size:8;not null" json:"currency"`
	Status            string             `gorm:"size:16;not null;index" json:"status"`
	BiometricVerified bool               `json:"biometric_verified"`
	DeviceID          string             `gorm:"index;size:64" json:"device_id,omitempty"`
	Hash              string             `gorm:"size:64" json:"hash"` // Content hash over immutable fields
	AuditBlockHash    string             `gorm:"size:64;index" json:"audit_block_hash,omitempty"`
	ComplianceChecks  ComplianceSnapshot `gorm:"serializer:json" json:"compliance_checks"`
	Metadata          RequestMetadata    `gorm:"serializer:json" json:"metadata"`
	CreatedAt         time.Time          `gorm:"index" json:"created_at"`
}

// LedgerEntry Model. Exactly two per committed transaction, one debit and one
// credit. Append-only; entry_hash covers the entry's own fields.
type LedgerEntry struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	TxnID        string    `gorm:"index;size:36;not null" json:"txn_id"`
	AccountID    string    `gorm:"index;size:64;not null" json:"account_id"`
	Direction    string    `gorm:"size:8;not null" json:"direction"`
	AmountMinor  int64     `gorm:"not null" json:"amount_minor"`
	BalanceAfter int64     `gorm:"not null" json:"balance_after"`
	EntryHash    string    `gorm:"size:64;not null" json:"entry_hash"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
}
