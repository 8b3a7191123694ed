package compliance

import (
	"context"
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

func testCfg() config.ComplianceConfig {
	return config.ComplianceConfig{
		DailyLimitMinor:   1_000_000,
		MonthlyLimitMinor: 5_000_000,
		SuspiciousMinor:   500_000,
		KYCValidity:       365 * 24 * time.Hour,
	}
}

func seedCompliantUser(t *testing.T, db *gorm.DB, now time.Time) {
	t.Helper()
	verified := now.Add(-30 * 24 * time.Hour)
	require.NoError(t, db.Create(&domain.User{
		UserID:           "u1",
		Email:            "u1@example.com",
		Phone:            "+15550001111",
		WalletID:         "acct-a",
		FullName:         "Test User",
		DateOfBirth:      "1990-01-01",
		Address:          "1 Test Street",
		PhoneVerified:    true,
		EmailVerified:    true,
		IdentityVerified: true,
		KYCVerifiedAt:    &verified,
	}).Error)
	require.NoError(t, db.Create(&domain.Consent{
		UserID:      "u1",
		ConsentType: ConsentPayment,
		Status:      "active",
	}).Error)
}

func checkCtx(amount int64) *CheckContext {
	return &CheckContext{
		UserID:      "u1",
		AccountID:   "acct-a",
		AmountMinor: amount,
		Currency:    "USD",
	}
}

func TestGateAllowsCompliantUser(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	seedCompliantUser(t, db, now)
	gate := DefaultGate(db, testCfg()).WithClock(func() time.Time { return now })

	res, err := gate.Evaluate(context.Background(), checkCtx(2500))
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.True(t, res.Snapshot.KYCVerified)
	require.True(t, res.Snapshot.AMLClear)
	require.True(t, res.Snapshot.LimitsValidated)
	require.Empty(t, res.Flags)
}

func TestGateFlagsHighAmount(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	seedCompliantUser(t, db, now)
	gate := DefaultGate(db, testCfg()).WithClock(func() time.Time { return now })

	res, err := gate.Evaluate(context.Background(), checkCtx(600_000))
	require.NoError(t, err)
	require.True(t, res.Allowed, "high amount is flagged, not vetoed")
	require.Contains(t, res.Flags, "high_amount")
}

func TestDailyLimitVeto(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	seedCompliantUser(t, db, now)
	// Prior debits today leave only 100 minor units of headroom.
	require.NoError(t, db.Create(&domain.LedgerEntry{
		TxnID: "t0", AccountID: "acct-a", Direction: domain.EntryDebit,
		AmountMinor: 999_900, BalanceAfter: 100, EntryHash: "h", CreatedAt: now,
	}).Error)
	gate := DefaultGate(db, testCfg()).WithClock(func() time.Time { return now })

	res, err := gate.Evaluate(context.Background(), checkCtx(200))
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Equal(t, CodeDailyLimitExceeded, res.Code)
	require.Equal(t, "spend_limits", res.FailedAt)

	// A veto must leave a compliance event behind.
	var logs int64
	require.NoError(t, db.Model(&domain.ComplianceLog{}).Where("event_type = ?", "compliance_veto").Count(&logs).Error)
	require.EqualValues(t, 1, logs)
}

func TestMonthlyLimitVeto(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	seedCompliantUser(t, db, now)
	// Spread debits over earlier days of the month, under any daily cap.
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if dayStart.Day() < 6 {
		t.Skip("not enough elapsed days this month for backdated debits")
	}
	for i := 1; i <= 5; i++ {
		require.NoError(t, db.Create(&domain.LedgerEntry{
			TxnID: "t0", AccountID: "acct-a", Direction: domain.EntryDebit,
			AmountMinor: 999_000, BalanceAfter: 0, EntryHash: "h",
			CreatedAt: dayStart.AddDate(0, 0, -i),
		}).Error)
	}
	gate := DefaultGate(db, testCfg()).WithClock(func() time.Time { return now })

	res, err := gate.Evaluate(context.Background(), checkCtx(10_000))
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Equal(t, CodeMonthlyLimitExceeded, res.Code)
}

func TestKYCVeto(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	seedCompliantUser(t, db, now)
	require.NoError(t, db.Model(&domain.User{}).Where("user_id = ?", "u1").
		Update("identity_verified", false).Error)
	gate := DefaultGate(db, testCfg()).WithClock(func() time.Time { return now })

	res, err := gate.Evaluate(context.Background(), checkCtx(100))
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Equal(t, CodeKYCRequired, res.Code)
}

func TestKYCExpiredVeto(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	seedCompliantUser(t, db, now)
	stale := now.Add(-400 * 24 * time.Hour)
	require.NoError(t, db.Model(&domain.User{}).Where("user_id = ?", "u1").
		Update("kyc_verified_at", stale).Error)
	gate := DefaultGate(db, testCfg()).WithClock(func() time.Time { return now })

	res, err := gate.Evaluate(context.Background(), checkCtx(100))
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Equal(t, CodeKYCRequired, res.Code)
	require.Equal(t, "KYC verification expired", res.Reason)
}

func TestAMLVetoByEmail(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	seedCompliantUser(t, db, now)
	require.NoError(t, db.Create(&domain.SanctionEntry{Email: "u1@example.com", Type: "ofac"}).Error)
	gate := DefaultGate(db, testCfg()).WithClock(func() time.Time { return now })

	res, err := gate.Evaluate(context.Background(), checkCtx(100))
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Equal(t, CodeAMLBlock, res.Code)
}

func TestConsentVeto(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	seedCompliantUser(t, db, now)
	require.NoError(t, db.Model(&domain.Consent{}).Where("user_id = ?", "u1").
		Update("status", "revoked").Error)
	gate := DefaultGate(db, testCfg()).WithClock(func() time.Time { return now })

	res, err := gate.Evaluate(context.Background(), checkCtx(100))
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Equal(t, CodeConsentRequired, res.Code)
}

func TestStoreFailureIsNotAVeto(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	seedCompliantUser(t, db, now)
	// A broken ledger store must surface as an error, not as a spend limit
	// veto the user is blamed for.
	require.NoError(t, db.Migrator().DropTable(&domain.LedgerEntry{}))
	gate := DefaultGate(db, testCfg()).WithClock(func() time.Time { return now })

	res, err := gate.Evaluate(context.Background(), checkCtx(100))
	require.Error(t, err)
	require.Empty(t, res.Code)

	// No compliance veto event is recorded for an evaluation failure.
	var logs int64
	require.NoError(t, db.Model(&domain.ComplianceLog{}).Where("event_type = ?", "compliance_veto").Count(&logs).Error)
	require.Zero(t, logs)
}

func TestGateOrderShortCircuits(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	seedCompliantUser(t, db, now)
	// Both the limits and consent checks would fail; the earlier checker wins.
	require.NoError(t, db.Model(&domain.Consent{}).Where("user_id = ?", "u1").
		Update("status", "revoked").Error)
	require.NoError(t, db.Create(&domain.LedgerEntry{
		TxnID: "t0", AccountID: "acct-a", Direction: domain.EntryDebit,
		AmountMinor: 1_000_000, BalanceAfter: 0, EntryHash: "h", CreatedAt: now,
	}).Error)
	gate := DefaultGate(db, testCfg()).WithClock(func() time.Time { return now })

	res, err := gate.Evaluate(context.Background(), checkCtx(100))
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Equal(t, CodeDailyLimitExceeded, res.Code)
}
