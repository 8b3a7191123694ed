// Package ledger owns balance mutation. A commit atomically debits the
// sender, credits the receiver and writes the double-entry rows; either
// everything lands or nothing does. Money is neither created nor destroyed.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payment_engine/internal/audit"
	"payment_engine/internal/domain"
	"payment_engine/internal/utils"

	"github.com/google/uuid"       // UUID generation
	"github.com/redis/go-redis/v9" // Redis client
	"github.com/sirupsen/logrus"   // Logging library
	"gorm.io/gorm"                 // GORM ORM library
)

// Commit failures surfaced to callers.
var (
	ErrSenderNotFound    = errors.New("sender account not found")
	ErrReceiverNotFound  = errors.New("receiver account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAccountInactive   = errors.New("account is not active")
	ErrInvalidAmount     = errors.New("amount must be positive")
)

// Code maps a commit error to its stable response code.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrSenderNotFound):
		return "SENDER_ACCOUNT_NOT_FOUND"
	case errors.Is(err, ErrReceiverNotFound):
		return "RECEIVER_ACCOUNT_NOT_FOUND"
	case errors.Is(err, ErrInsufficientFunds):
		return "INSUFFICIENT_FUNDS"
	case errors.Is(err, ErrAccountInactive):
		return "ACCOUNT_INACTIVE"
	case errors.Is(err, ErrInvalidAmount):
		return "INVALID_AMOUNT"
	default:
		return "LEDGER_ERROR"
	}
}

// CommitParams is one transfer to commit.
type CommitParams struct {
	UserID            string
	DeviceID          string
	Type              string // p2p, merchant, scheduled
	FromAccount       string
	ToAccount         string
	AmountMinor       int64
	Currency          string
	BiometricVerified bool
	Compliance        domain.ComplianceSnapshot
	Metadata          domain.RequestMetadata
}

// CommitResult reports a committed transfer. AuditPending means the balances
// and ledger rows are final but the audit block append failed and will be
// reconciled later.
type CommitResult struct {
	TxnID           string    `json:"txn_id"`
	Hash            string    `json:"hash"`
	SenderBalance   int64     `json:"sender_balance"`
	ReceiverBalance int64     `json:"receiver_balance"`
	AuditBlockHash  string    `json:"audit_block_hash,omitempty"`
	AuditPending    bool      `json:"audit_pending"`
	Timestamp       time.Time `json:"timestamp"`
}

type txnHashPayload struct {
	TxnID                string `json:"txn_id"`
	FromAccount          string `json:"from_account"`
	ToAccount            string `json:"to_account"`
	AmountMinor          int64  `json:"amount_minor"`
	Currency             string `json:"currency"`
	Timestamp            string `json:"timestamp"`
	SenderBalanceAfter   int64  `json:"sender_balance_after"`
	ReceiverBalanceAfter int64  `json:"receiver_balance_after"`
	BiometricVerified    bool   `json:"biometric_verified"`
}

type entryHashPayload struct {
	TxnID        string `json:"txn_id"`
	AccountID    string `json:"account_id"`
	Direction    string `json:"direction"`
	AmountMinor  int64  `json:"amount_minor"`
	BalanceAfter int64  `json:"balance_after"`
	Timestamp    string `json:"timestamp"`
}

// Engine executes atomic ledger commits.
type Engine struct {
	db    *gorm.DB
	chain *audit.Chain
	rdb   *redis.Client
	now   func() time.Time
	newID func() string
}

// NewEngine builds a ledger engine over the given store and audit chain.
func NewEngine(db *gorm.DB, chain *audit.Chain) *Engine {
	return &Engine{db: db, chain: chain, now: time.Now, newID: uuid.NewString}
}

// WithCache enables balance cache invalidation on commit.
func (e *Engine) WithCache(rdb *redis.Client) *Engine {
	e.rdb = rdb
	return e
}

// WithClock overrides the time source. Test hook.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Commit moves funds between two accounts in a single database transaction.
// Existence, status and funds are all checked inside the atomic scope; the
// debit itself is a conditional update so a concurrent spend can never drive
// a balance negative. Exactly two ledger entries are written per commit.
func (e *Engine) Commit(ctx context.Context, p CommitParams) (*CommitResult, error) {
	if p.AmountMinor <= 0 {
		return nil, ErrInvalidAmount
	}

	now := e.now()
	txn := domain.Transaction{
		TxnID:             e.newID(),
		Type:              p.Type,
		FromAccount:       p.FromAccount,
		ToAccount:         p.ToAccount,
		AmountMinor:       p.AmountMinor,
		Currency:          p.Currency,
		BiometricVerified: p.BiometricVerified,
		DeviceID:          p.DeviceID,
		ComplianceChecks:  p.Compliance,
		Metadata:          p.Metadata,
		CreatedAt:         now,
	}

	var result CommitResult
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sender domain.Account
		if err := tx.Where("account_id = ?", p.FromAccount).First(&sender).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrSenderNotFound
			}
			return err
		}
		var receiver domain.Account
		if err := tx.Where("account_id = ?", p.ToAccount).First(&receiver).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrReceiverNotFound
			}
			return err
		}
		if sender.Status != domain.AccountActive || receiver.Status != domain.AccountActive {
			return ErrAccountInactive
		}

		// Guarded debit; loses the race rather than overdrawing.
		res := tx.Model(&domain.Account{}).
			Where("account_id = ? AND balance_minor >= ?", p.FromAccount, p.AmountMinor).
			Updates(map[string]any{
				"balance_minor": gorm.Expr("balance_minor - ?", p.AmountMinor),
				"last_updated":  now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInsufficientFunds
		}

		res = tx.Model(&domain.Account{}).
			Where("account_id = ?", p.ToAccount).
			Updates(map[string]any{
				"balance_minor": gorm.Expr("balance_minor + ?", p.AmountMinor),
				"last_updated":  now,
			})
		if res.Error != nil {
			return res.Error
		}

		if err := tx.Where("account_id = ?", p.FromAccount).First(&sender).Error; err != nil {
			return err
		}
		if err := tx.Where("account_id = ?", p.ToAccount).First(&receiver).Error; err != nil {
			return err
		}

		txn.Status = domain.TxnSuccess
		txn.Hash = audit.CanonicalHash(txnHashPayload{
			TxnID:                txn.TxnID,
			FromAccount:          p.FromAccount,
			ToAccount:            p.ToAccount,
			AmountMinor:          p.AmountMinor,
			Currency:             p.Currency,
			Timestamp:            now.UTC().Format(time.RFC3339Nano),
			SenderBalanceAfter:   sender.BalanceMinor,
			ReceiverBalanceAfter: receiver.BalanceMinor,
			BiometricVerified:    p.BiometricVerified,
		})
		if err := tx.Create(&txn).Error; err != nil {
			return err
		}

		debit := domain.LedgerEntry{
			TxnID:        txn.TxnID,
			AccountID:    p.FromAccount,
			Direction:    domain.EntryDebit,
			AmountMinor:  p.AmountMinor,
			BalanceAfter: sender.BalanceMinor,
			CreatedAt:    now,
		}
		debit.EntryHash = entryHash(debit)
		if err := tx.Create(&debit).Error; err != nil {
			return err
		}
		credit := domain.LedgerEntry{
			TxnID:        txn.TxnID,
			AccountID:    p.ToAccount,
			Direction:    domain.EntryCredit,
			AmountMinor:  p.AmountMinor,
			BalanceAfter: receiver.BalanceMinor,
			CreatedAt:    now,
		}
		credit.EntryHash = entryHash(credit)
		if err := tx.Create(&credit).Error; err != nil {
			return err
		}

		result = CommitResult{
			TxnID:           txn.TxnID,
			Hash:            txn.Hash,
			SenderBalance:   sender.BalanceMinor,
			ReceiverBalance: receiver.BalanceMinor,
			Timestamp:       now,
		}
		return nil
	})
	if err != nil {
		e.recordFailure(ctx, txn, err)
		return nil, err
	}

	// The audit append is best-effort; commit success never depends on it.
	result.AuditPending = true
	if e.chain != nil {
		blockHash, auditErr := e.chain.AppendBlock(ctx, []domain.Transaction{txn})
		if auditErr != nil {
			logrus.WithFields(logrus.Fields{
				"txn_id": txn.TxnID,
				"error":  auditErr.Error(),
			}).Warn("Audit block append deferred")
		} else {
			if uerr := e.db.WithContext(ctx).Model(&domain.Transaction{}).
				Where("txn_id = ?", txn.TxnID).
				Update("audit_block_hash", blockHash).Error; uerr == nil {
				result.AuditBlockHash = blockHash
				result.AuditPending = false
			}
		}
	}

	e.invalidateBalances(ctx, p.FromAccount, p.ToAccount)

	logrus.WithFields(logrus.Fields{
		"txn_id":       result.TxnID,
		"from_account": p.FromAccount,
		"to_account":   p.ToAccount,
		"amount_minor": p.AmountMinor,
		"currency":     p.Currency,
	}).Info("Transaction committed")
	return &result, nil
}

// recordFailure leaves a failed Transaction row behind for veto and ledger
// rejections. Infrastructure errors do not get a row.
func (e *Engine) recordFailure(ctx context.Context, txn domain.Transaction, cause error) {
	switch {
	case errors.Is(cause, ErrSenderNotFound),
		errors.Is(cause, ErrReceiverNotFound),
		errors.Is(cause, ErrInsufficientFunds),
		errors.Is(cause, ErrAccountInactive):
	default:
		return
	}
	txn.Status = domain.TxnFailed
	if err := e.db.WithContext(ctx).Create(&txn).Error; err != nil {
		logrus.WithFields(logrus.Fields{"txn_id": txn.TxnID, "error": err.Error()}).
			Error("Failed to record failed transaction")
	}
}

func (e *Engine) invalidateBalances(ctx context.Context, accounts ...string) {
	if e.rdb == nil {
		return
	}
	for _, id := range accounts {
		if err := utils.DeleteCache(ctx, e.rdb, fmt.Sprintf("account:%s", id)); err != nil {
			logrus.WithFields(logrus.Fields{"account_id": id, "error": err.Error()}).
				Warn("Failed to invalidate balance cache")
		}
	}
}

func entryHash(entry domain.LedgerEntry) string {
	return audit.CanonicalHash(entryHashPayload{
		TxnID:        entry.TxnID,
		AccountID:    entry.AccountID,
		Direction:    entry.Direction,
		AmountMinor:  entry.AmountMinor,
		BalanceAfter: entry.BalanceAfter,
		Timestamp:    entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}
