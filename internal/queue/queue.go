// Package queue defers payment settlement. Items move through a small state
// machine (pending -> processing -> completed/retry/failed) driven by a
// polling scheduler with a bounded worker pool. Failed attempts back off
// linearly and exhaust into a terminal failed state with a full error log.
package queue

import (
	"context"
	"errors"
	"time"

	"payment_engine/internal/config"
	"payment_engine/internal/domain"

	"github.com/google/uuid"     // UUID generation
	"github.com/sirupsen/logrus" // Logging library
	"golang.org/x/sync/errgroup" // Bounded worker pool
	"gorm.io/gorm"               // GORM ORM library
)

// Priority bounds. 1 is the highest priority.
const (
	PriorityHighest = 1
	PriorityDefault = 5
	PriorityLowest  = 10
)

var (
	ErrInvalidPriority = errors.New("priority must be between 1 and 10")
	ErrNotCancellable  = errors.New("item is not pending or retry")
)

// PermanentError marks a processing failure that must not be retried, e.g. a
// compliance veto. Anything else is treated as transient.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Processor settles one queued payment and returns the resulting transaction
// ID on success.
type Processor func(ctx context.Context, payload domain.QueuePayload) (string, error)

// Status is the aggregate queue view.
type Status struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Retry      int64 `json:"retry"`
	Cancelled  int64 `json:"cancelled"`
	Depth      int64 `json:"depth"` // pending + retry + processing
}

// Manager owns queue persistence and the settlement scheduler.
type Manager struct {
	db   *gorm.DB
	cfg  config.QueueConfig
	proc Processor
	now  func() time.Time
}

// NewManager builds a queue manager around a settlement processor.
func NewManager(db *gorm.DB, cfg config.QueueConfig, proc Processor) *Manager {
	return &Manager{db: db, cfg: cfg, proc: proc, now: time.Now}
}

// WithClock overrides the time source. Test hook.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Enqueue accepts a payment for deferred settlement. A zero scheduledAt means
// due immediately.
func (m *Manager) Enqueue(ctx context.Context, payload domain.QueuePayload, priority int, scheduledAt time.Time) (*domain.QueueItem, error) {
	if priority == 0 {
		priority = PriorityDefault
	}
	if priority < PriorityHighest || priority > PriorityLowest {
		return nil, ErrInvalidPriority
	}
	now := m.now()
	if scheduledAt.IsZero() {
		scheduledAt = now
	}
	item := domain.QueueItem{
		QueueID:     uuid.NewString(),
		UserID:      payload.UserID,
		Payload:     payload,
		Status:      domain.QueuePending,
		Priority:    priority,
		ScheduledAt: scheduledAt,
		CreatedAt:   now,
	}
	if err := m.db.WithContext(ctx).Create(&item).Error; err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"queue_id": item.QueueID,
		"user_id":  item.UserID,
		"priority": item.Priority,
	}).Info("Transaction enqueued")
	return &item, nil
}

// Cancel withdraws an item that has not started processing. Only pending and
// retry items can be cancelled, enforced by a conditional update so a racing
// worker claim wins cleanly.
func (m *Manager) Cancel(ctx context.Context, queueID, userID string) error {
	res := m.db.WithContext(ctx).Model(&domain.QueueItem{}).
		Where("queue_id = ? AND user_id = ? AND status IN ?",
			queueID, userID, []string{domain.QueuePending, domain.QueueRetry}).
		Update("status", domain.QueueCancelled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotCancellable
	}
	return nil
}

// GetItem loads one queue item scoped to its owner.
func (m *Manager) GetItem(ctx context.Context, queueID, userID string) (*domain.QueueItem, error) {
	var item domain.QueueItem
	err := m.db.WithContext(ctx).
		Where("queue_id = ? AND user_id = ?", queueID, userID).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// GetUserItems lists a user's queue items, newest first.
func (m *Manager) GetUserItems(ctx context.Context, userID string, limit int) ([]domain.QueueItem, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var items []domain.QueueItem
	err := m.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").Limit(limit).
		Find(&items).Error
	return items, err
}

// GetStatus returns per-state counts.
func (m *Manager) GetStatus(ctx context.Context) (*Status, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := m.db.WithContext(ctx).Model(&domain.QueueItem{}).
		Select("status, COUNT(*) AS n").Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	s := &Status{}
	for _, row := range rows {
		switch row.Status {
		case domain.QueuePending:
			s.Pending = row.N
		case domain.QueueProcessing:
			s.Processing = row.N
		case domain.QueueCompleted:
			s.Completed = row.N
		case domain.QueueFailed:
			s.Failed = row.N
		case domain.QueueRetry:
			s.Retry = row.N
		case domain.QueueCancelled:
			s.Cancelled = row.N
		}
	}
	s.Depth = s.Pending + s.Retry + s.Processing
	return s, nil
}

// CleanupOld reaps terminal items older than the retention window.
func (m *Manager) CleanupOld(ctx context.Context) (int64, error) {
	cutoff := m.now().Add(-m.cfg.Retention)
	res := m.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?",
			[]string{domain.QueueCompleted, domain.QueueFailed, domain.QueueCancelled}, cutoff).
		Delete(&domain.QueueItem{})
	return res.RowsAffected, res.Error
}

// Run drives the scheduler until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()
	logrus.WithField("tick_interval", m.cfg.TickInterval.String()).Info("Queue scheduler started")
	for {
		select {
		case <-ctx.Done():
			logrus.Info("Queue scheduler stopped")
			return
		case <-ticker.C:
			if _, err := m.ProcessDue(ctx); err != nil {
				logrus.WithField("error", err.Error()).Error("Queue tick failed")
			}
		}
	}
}

// ProcessDue claims every due pending/retry item and settles the batch with
// bounded concurrency. Returns how many items were claimed.
func (m *Manager) ProcessDue(ctx context.Context) (int, error) {
	now := m.now()
	var due []domain.QueueItem
	err := m.db.WithContext(ctx).
		Where("status IN ? AND scheduled_at <= ?",
			[]string{domain.QueuePending, domain.QueueRetry}, now).
		Order("priority ASC, created_at ASC").
		Limit(m.cfg.ProcessingLimit).
		Find(&due).Error
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.ProcessingLimit)
	claimed := 0
	for _, item := range due {
		// Conditional claim; a concurrent scheduler or a cancel wins at most once.
		res := m.db.WithContext(ctx).Model(&domain.QueueItem{}).
			Where("queue_id = ? AND status IN ?",
				item.QueueID, []string{domain.QueuePending, domain.QueueRetry}).
			Updates(map[string]any{
				"status":          domain.QueueProcessing,
				"last_attempt_at": now,
				"attempts":        gorm.Expr("attempts + 1"),
			})
		if res.Error != nil {
			return claimed, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}
		claimed++
		item.Attempts++
		work := item
		g.Go(func() error {
			m.settle(gctx, work)
			return nil
		})
	}
	return claimed, g.Wait()
}

// settle runs the processor for one claimed item and applies the outcome.
func (m *Manager) settle(ctx context.Context, item domain.QueueItem) {
	txnID, err := m.proc(ctx, item.Payload)
	now := m.now()
	if err == nil {
		update := domain.QueueItem{
			Status:      domain.QueueCompleted,
			ResultTxnID: txnID,
			CompletedAt: &now,
		}
		if uerr := m.db.WithContext(ctx).Model(&domain.QueueItem{}).
			Where("queue_id = ?", item.QueueID).
			Select("status", "result_txn_id", "completed_at").
			Updates(update).Error; uerr != nil {
			logrus.WithFields(logrus.Fields{"queue_id": item.QueueID, "error": uerr.Error()}).
				Error("Failed to mark queue item completed")
		}
		logrus.WithFields(logrus.Fields{"queue_id": item.QueueID, "txn_id": txnID}).
			Info("Queued transaction settled")
		return
	}

	item.ErrorLog = append(item.ErrorLog, domain.QueueError{
		Attempt:   item.Attempts,
		Error:     err.Error(),
		Timestamp: now,
	})

	var perm *PermanentError
	exhausted := item.Attempts >= m.cfg.RetryLimit
	if errors.As(err, &perm) || exhausted {
		update := domain.QueueItem{
			Status:   domain.QueueFailed,
			ErrorLog: item.ErrorLog,
		}
		if uerr := m.db.WithContext(ctx).Model(&domain.QueueItem{}).
			Where("queue_id = ?", item.QueueID).
			Select("status", "error_log").
			Updates(update).Error; uerr != nil {
			logrus.WithFields(logrus.Fields{"queue_id": item.QueueID, "error": uerr.Error()}).
				Error("Failed to mark queue item failed")
		}
		logrus.WithFields(logrus.Fields{
			"queue_id": item.QueueID,
			"attempts": item.Attempts,
			"error":    err.Error(),
		}).Warn("Queued transaction failed")
		return
	}

	// Linear backoff grows with the attempt count.
	update := domain.QueueItem{
		Status:      domain.QueueRetry,
		ScheduledAt: now.Add(m.cfg.RetryDelay * time.Duration(item.Attempts)),
		ErrorLog:    item.ErrorLog,
	}
	if uerr := m.db.WithContext(ctx).Model(&domain.QueueItem{}).
		Where("queue_id = ?", item.QueueID).
		Select("status", "scheduled_at", "error_log").
		Updates(update).Error; uerr != nil {
		logrus.WithFields(logrus.Fields{"queue_id": item.QueueID, "error": uerr.Error()}).
			Error("Failed to schedule queue item retry")
	}
}
