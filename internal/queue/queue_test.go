package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"payment_engine/internal/config"
	storage "payment_engine/internal/db"
	"payment_engine/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, gdb.AutoMigrate(storage.Models()...))
	return gdb
}

func testCfg() config.QueueConfig {
	return config.QueueConfig{
		ProcessingLimit: 1, // Serial settlement keeps test ordering deterministic
		RetryLimit:      3,
		RetryDelay:      5 * time.Second,
		Retention:       7 * 24 * time.Hour,
		TickInterval:    time.Second,
	}
}

func payload(user string, amount int64) domain.QueuePayload {
	return domain.QueuePayload{
		UserID:            user,
		FromAccount:       "acct-a",
		ToAccount:         "acct-b",
		AmountMinor:       amount,
		Currency:          "USD",
		BiometricVerified: true,
	}
}

func TestEnqueueDefaults(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	m := NewManager(db, testCfg(), nil).WithClock(func() time.Time { return now })

	item, err := m.Enqueue(context.Background(), payload("u1", 100), 0, time.Time{})
	require.NoError(t, err)
	require.Equal(t, domain.QueuePending, item.Status)
	require.Equal(t, PriorityDefault, item.Priority)
	require.Equal(t, "u1", item.UserID)
	require.WithinDuration(t, now, item.ScheduledAt, time.Second)
}

func TestEnqueueRejectsBadPriority(t *testing.T) {
	db := newTestDB(t)
	m := NewManager(db, testCfg(), nil)

	_, err := m.Enqueue(context.Background(), payload("u1", 100), 11, time.Time{})
	require.ErrorIs(t, err, ErrInvalidPriority)
	_, err = m.Enqueue(context.Background(), payload("u1", 100), -1, time.Time{})
	require.ErrorIs(t, err, ErrInvalidPriority)
}

func TestProcessDueSettles(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	proc := func(ctx context.Context, p domain.QueuePayload) (string, error) {
		return "txn-1", nil
	}
	m := NewManager(db, testCfg(), proc).WithClock(func() time.Time { return now })

	item, err := m.Enqueue(context.Background(), payload("u1", 100), 0, time.Time{})
	require.NoError(t, err)

	n, err := m.ProcessDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := m.GetItem(context.Background(), item.QueueID, "u1")
	require.NoError(t, err)
	require.Equal(t, domain.QueueCompleted, got.Status)
	require.Equal(t, "txn-1", got.ResultTxnID)
	require.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.CompletedAt)
}

func TestProcessDueHonorsPriority(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	var mu sync.Mutex
	var order []int64
	proc := func(ctx context.Context, p domain.QueuePayload) (string, error) {
		mu.Lock()
		order = append(order, p.AmountMinor)
		mu.Unlock()
		return "txn", nil
	}
	m := NewManager(db, testCfg(), proc).WithClock(func() time.Time { return now })

	_, err := m.Enqueue(context.Background(), payload("u1", 500), PriorityLowest, time.Time{})
	require.NoError(t, err)
	_, err = m.Enqueue(context.Background(), payload("u1", 100), PriorityHighest, time.Time{})
	require.NoError(t, err)

	_, err = m.ProcessDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int64{100, 500}, order)
}

func TestFutureItemNotClaimed(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	proc := func(ctx context.Context, p domain.QueuePayload) (string, error) {
		return "txn", nil
	}
	m := NewManager(db, testCfg(), proc).WithClock(func() time.Time { return now })

	_, err := m.Enqueue(context.Background(), payload("u1", 100), 0, now.Add(time.Hour))
	require.NoError(t, err)

	n, err := m.ProcessDue(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRetryBackoffAndExhaustion(t *testing.T) {
	db := newTestDB(t)
	current := time.Now()
	proc := func(ctx context.Context, p domain.QueuePayload) (string, error) {
		return "", errors.New("ledger timeout")
	}
	m := NewManager(db, testCfg(), proc).WithClock(func() time.Time { return current })

	item, err := m.Enqueue(context.Background(), payload("u1", 100), 0, time.Time{})
	require.NoError(t, err)

	// Attempt 1 fails and reschedules with a 5s delay.
	_, err = m.ProcessDue(context.Background())
	require.NoError(t, err)
	got, err := m.GetItem(context.Background(), item.QueueID, "u1")
	require.NoError(t, err)
	require.Equal(t, domain.QueueRetry, got.Status)
	require.Equal(t, 1, got.Attempts)
	require.Len(t, got.ErrorLog, 1)
	require.WithinDuration(t, current.Add(5*time.Second), got.ScheduledAt, time.Second)

	// Not due yet.
	n, err := m.ProcessDue(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)

	// Attempt 2 fails with a longer delay.
	current = current.Add(6 * time.Second)
	_, err = m.ProcessDue(context.Background())
	require.NoError(t, err)
	got, err = m.GetItem(context.Background(), item.QueueID, "u1")
	require.NoError(t, err)
	require.Equal(t, domain.QueueRetry, got.Status)
	require.Equal(t, 2, got.Attempts)
	require.WithinDuration(t, current.Add(10*time.Second), got.ScheduledAt, time.Second)

	// Attempt 3 exhausts the retry limit.
	current = current.Add(11 * time.Second)
	_, err = m.ProcessDue(context.Background())
	require.NoError(t, err)
	got, err = m.GetItem(context.Background(), item.QueueID, "u1")
	require.NoError(t, err)
	require.Equal(t, domain.QueueFailed, got.Status)
	require.Equal(t, 3, got.Attempts)
	require.Len(t, got.ErrorLog, 3)
}

func TestPermanentErrorFailsImmediately(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	proc := func(ctx context.Context, p domain.QueuePayload) (string, error) {
		return "", Permanent(errors.New("AML_BLOCK"))
	}
	m := NewManager(db, testCfg(), proc).WithClock(func() time.Time { return now })

	item, err := m.Enqueue(context.Background(), payload("u1", 100), 0, time.Time{})
	require.NoError(t, err)

	_, err = m.ProcessDue(context.Background())
	require.NoError(t, err)
	got, err := m.GetItem(context.Background(), item.QueueID, "u1")
	require.NoError(t, err)
	require.Equal(t, domain.QueueFailed, got.Status)
	require.Equal(t, 1, got.Attempts)
	require.Len(t, got.ErrorLog, 1)
	require.Equal(t, "AML_BLOCK", got.ErrorLog[0].Error)
}

func TestCancelRules(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	proc := func(ctx context.Context, p domain.QueuePayload) (string, error) {
		return "txn", nil
	}
	m := NewManager(db, testCfg(), proc).WithClock(func() time.Time { return now })

	item, err := m.Enqueue(context.Background(), payload("u1", 100), 0, time.Time{})
	require.NoError(t, err)

	// Wrong owner cannot cancel.
	require.ErrorIs(t, m.Cancel(context.Background(), item.QueueID, "u2"), ErrNotCancellable)
	// Owner can cancel a pending item.
	require.NoError(t, m.Cancel(context.Background(), item.QueueID, "u1"))

	// A cancelled item is never claimed.
	n, err := m.ProcessDue(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)

	// Terminal items cannot be cancelled.
	done, err := m.Enqueue(context.Background(), payload("u1", 200), 0, time.Time{})
	require.NoError(t, err)
	_, err = m.ProcessDue(context.Background())
	require.NoError(t, err)
	require.ErrorIs(t, m.Cancel(context.Background(), done.QueueID, "u1"), ErrNotCancellable)
}

func TestGetStatusCounts(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	proc := func(ctx context.Context, p domain.QueuePayload) (string, error) {
		return "txn", nil
	}
	m := NewManager(db, testCfg(), proc).WithClock(func() time.Time { return now })

	_, err := m.Enqueue(context.Background(), payload("u1", 100), 0, now.Add(time.Hour))
	require.NoError(t, err)
	settled, err := m.Enqueue(context.Background(), payload("u1", 200), 0, time.Time{})
	require.NoError(t, err)
	_, err = m.ProcessDue(context.Background())
	require.NoError(t, err)

	s, err := m.GetStatus(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, s.Pending)
	require.EqualValues(t, 1, s.Completed)
	require.EqualValues(t, 1, s.Depth)

	got, err := m.GetItem(context.Background(), settled.QueueID, "u1")
	require.NoError(t, err)
	require.Equal(t, domain.QueueCompleted, got.Status)
}

func TestCleanupOld(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	m := NewManager(db, testCfg(), nil).WithClock(func() time.Time { return now })

	require.NoError(t, db.Create(&domain.QueueItem{
		QueueID: "old-done", UserID: "u1", Status: domain.QueueCompleted,
		Priority: 5, ScheduledAt: now, CreatedAt: now.Add(-8 * 24 * time.Hour),
	}).Error)
	require.NoError(t, db.Create(&domain.QueueItem{
		QueueID: "old-pending", UserID: "u1", Status: domain.QueuePending,
		Priority: 5, ScheduledAt: now, CreatedAt: now.Add(-8 * 24 * time.Hour),
	}).Error)
	require.NoError(t, db.Create(&domain.QueueItem{
		QueueID: "fresh-done", UserID: "u1", Status: domain.QueueCompleted,
		Priority: 5, ScheduledAt: now, CreatedAt: now,
	}).Error)

	removed, err := m.CleanupOld(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	var left []domain.QueueItem
	require.NoError(t, db.Find(&left).Error)
	require.Len(t, left, 2)
}

func TestGetUserItemsScoped(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	m := NewManager(db, testCfg(), nil).WithClock(func() time.Time { return now })

	_, err := m.Enqueue(context.Background(), payload("u1", 100), 0, time.Time{})
	require.NoError(t, err)
	_, err = m.Enqueue(context.Background(), payload("u2", 200), 0, time.Time{})
	require.NoError(t, err)

	items, err := m.GetUserItems(context.Background(), "u1", 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "u1", items[0].UserID)
}
