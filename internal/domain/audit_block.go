package domain

import "time"

// AuditBlock Model. Write-once block in the hash-linked audit chain. The first
// block's previous_hash is the "genesis" sentinel.
type AuditBlock struct {
	BlockNumber      int64     `gorm:"primaryKey;autoIncrement:false" json:"block_number"`
	Timestamp        time.Time `json:"timestamp"`
	PreviousHash     string    `gorm:"size:64;not null" json:"previous_hash"`
	MerkleRoot       string    `gorm:"size:64;not null" json:"merkle_root"`
	TransactionCount int       `gorm:"not null" json:"transaction_count"`
	TransactionIDs   []string  `gorm:"serializer:json" json:"transaction_ids"`
	BlockHash        string    `gorm:"size:64;not null" json:"block_hash"` // Hash over all prior fields
}
