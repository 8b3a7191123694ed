// Package audit maintains the tamper-evident trail: committed transactions are
// batched into hash-linked, Merkle-rooted blocks. Blocks are write-once and
// appended off the critical payment path.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"payment_engine/internal/domain"

	"github.com/sirupsen/logrus" // Logging library
	"gorm.io/gorm"               // GORM ORM library
)

// GenesisHash is the previous_hash sentinel of block 0.
const GenesisHash = "genesis"

// CanonicalHash returns the hex SHA-256 of v's canonical JSON form (sorted
// keys, no whitespace).
func CanonicalHash(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	canonical, err := json.Marshal(doc)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// leafPayload is the immutable view of a transaction hashed into a Merkle
// leaf. The content hash field already covers timestamps and post-balances.
type leafPayload struct {
	TxnID             string `json:"txn_id"`
	FromAccount       string `json:"from_account"`
	ToAccount         string `json:"to_account"`
	AmountMinor       int64  `json:"amount_minor"`
	Currency          string `json:"currency"`
	BiometricVerified bool   `json:"biometric_verified"`
	Hash              string `json:"hash"`
}

// blockPayload is the hashed view of a block, excluding block_hash itself.
type blockPayload struct {
	BlockNumber      int64    `json:"block_number"`
	Timestamp        string   `json:"timestamp"`
	PreviousHash     string   `json:"previous_hash"`
	MerkleRoot       string   `json:"merkle_root"`
	TransactionCount int      `json:"transaction_count"`
	TransactionIDs   []string `json:"transaction_ids"`
}

// Chain owns AuditBlock persistence and verification.
type Chain struct {
	db  *gorm.DB
	now func() time.Time
}

// NewChain builds an audit chain over the given store.
func NewChain(db *gorm.DB) *Chain {
	return &Chain{db: db, now: time.Now}
}

// WithClock overrides the time source. Test hook.
func (c *Chain) WithClock(now func() time.Time) *Chain {
	c.now = now
	return c
}

// TransactionLeaf hashes one transaction into its Merkle leaf.
func TransactionLeaf(txn domain.Transaction) string {
	return CanonicalHash(leafPayload{
		TxnID:             txn.TxnID,
		FromAccount:       txn.FromAccount,
		ToAccount:         txn.ToAccount,
		AmountMinor:       txn.AmountMinor,
		Currency:          txn.Currency,
		BiometricVerified: txn.BiometricVerified,
		Hash:              txn.Hash,
	})
}

// MerkleRoot reduces the leaf hashes pairwise to a single root, duplicating
// the last leaf when a level has odd cardinality. An empty batch yields a
// fixed sentinel root.
func MerkleRoot(leaves []string) string {
	if len(leaves) == 0 {
		sum := sha256.Sum256([]byte("empty"))
		return hex.EncodeToString(sum[:])
	}
	level := append([]string(nil), leaves...)
	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			combined := level[i]
			if i+1 < len(level) {
				combined += level[i+1]
			} else {
				combined += level[i] // Duplicate the odd leaf
			}
			sum := sha256.Sum256([]byte(combined))
			next = append(next, hex.EncodeToString(sum[:]))
		}
		level = next
	}
	return level[0]
}

func blockHash(b domain.AuditBlock) string {
	return CanonicalHash(blockPayload{
		BlockNumber:      b.BlockNumber,
		Timestamp:        b.Timestamp.UTC().Format(time.RFC3339),
		PreviousHash:     b.PreviousHash,
		MerkleRoot:       b.MerkleRoot,
		TransactionCount: b.TransactionCount,
		TransactionIDs:   b.TransactionIDs,
	})
}

// AppendBlock folds a batch of committed transactions into a new write-once
// block and returns its hash.
func (c *Chain) AppendBlock(ctx context.Context, txns []domain.Transaction) (string, error) {
	prevHash := GenesisHash
	var blockNumber int64
	var last domain.AuditBlock
	err := c.db.WithContext(ctx).Order("block_number DESC").First(&last).Error
	if err == nil {
		prevHash = last.BlockHash
		blockNumber = last.BlockNumber + 1
	} else if err != gorm.ErrRecordNotFound {
		return "", err
	}

	leaves := make([]string, len(txns))
	ids := make([]string, len(txns))
	for i, txn := range txns {
		leaves[i] = TransactionLeaf(txn)
		ids[i] = txn.TxnID
	}

	block := domain.AuditBlock{
		BlockNumber:      blockNumber,
		Timestamp:        c.now().UTC().Truncate(time.Second),
		PreviousHash:     prevHash,
		MerkleRoot:       MerkleRoot(leaves),
		TransactionCount: len(txns),
		TransactionIDs:   ids,
	}
	block.BlockHash = blockHash(block)

	if err := c.db.WithContext(ctx).Create(&block).Error; err != nil {
		return "", err
	}
	logrus.WithFields(logrus.Fields{
		"block_number": block.BlockNumber,
		"block_hash":   block.BlockHash,
		"transactions": len(txns),
	}).Info("Audit block appended")
	return block.BlockHash, nil
}

// VerifyChain walks blocks in ascending order, confirming the previous-hash
// link, the stored block hash and the Merkle root over the transactions each
// block references. Any mismatch fails the whole verification.
func (c *Chain) VerifyChain(ctx context.Context) (bool, error) {
	var blocks []domain.AuditBlock
	if err := c.db.WithContext(ctx).Order("block_number ASC").Find(&blocks).Error; err != nil {
		return false, err
	}

	prevHash := GenesisHash
	for _, block := range blocks {
		if block.PreviousHash != prevHash {
			return false, nil
		}
		if blockHash(block) != block.BlockHash {
			return false, nil
		}
		if len(block.TransactionIDs) > 0 {
			var txns []domain.Transaction
			err := c.db.WithContext(ctx).
				Where("txn_id IN ?", block.TransactionIDs).
				Find(&txns).Error
			if err != nil {
				return false, err
			}
			if len(txns) != len(block.TransactionIDs) {
				return false, nil
			}
			byID := make(map[string]domain.Transaction, len(txns))
			for _, txn := range txns {
				byID[txn.TxnID] = txn
			}
			leaves := make([]string, len(block.TransactionIDs))
			for i, id := range block.TransactionIDs {
				leaves[i] = TransactionLeaf(byID[id])
			}
			if MerkleRoot(leaves) != block.MerkleRoot {
				return false, nil
			}
		}
		prevHash = block.BlockHash
	}
	return true, nil
}

// ReconcilePending sweeps committed transactions that never made it into a
// block (best-effort append failed at commit time) and folds them into one.
// Returns the number of transactions reconciled.
func (c *Chain) ReconcilePending(ctx context.Context) (int, error) {
	var pending []domain.Transaction
	err := c.db.WithContext(ctx).
		Where("status = ? AND (audit_block_hash = '' OR audit_block_hash IS NULL)", domain.TxnSuccess).
		Order("created_at ASC").Limit(100).
		Find(&pending).Error
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	hash, err := c.AppendBlock(ctx, pending)
	if err != nil {
		return 0, err
	}
	ids := make([]string, len(pending))
	for i, txn := range pending {
		ids[i] = txn.TxnID
	}
	err = c.db.WithContext(ctx).Model(&domain.Transaction{}).
		Where("txn_id IN ?", ids).
		Update("audit_block_hash", hash).Error
	if err != nil {
		return 0, err
	}
	return len(pending), nil
}
