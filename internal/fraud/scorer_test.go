package fraud

import (
	"context"
	"fmt"
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

func testRisk() config.RiskConfig {
	return config.RiskConfig{
		PatternWeight: 0.4, DeviceWeight: 0.3, NetworkWeight: 0.3,
		BlockThreshold: 0.8, ReviewLevel: 0.6, MonitorLevel: 0.3,
	}
}

func seedHistory(t *testing.T, db *gorm.DB, now time.Time, n int, amount int64) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, db.Create(&domain.Transaction{
			TxnID:       fmt.Sprintf("hist-%d-%d", amount, i),
			Type:        "p2p",
			FromAccount: "acct-a",
			ToAccount:   "acct-b",
			AmountMinor: amount,
			Currency:    "USD",
			Status:      domain.TxnSuccess,
			DeviceID:    "d1",
			Metadata:    domain.RequestMetadata{IPAddress: "10.0.0.1", UserAgent: "app/1.0"},
			CreatedAt:   now.Add(-time.Duration(i+2) * 24 * time.Hour),
		}).Error)
	}
}

func TestInsufficientHistory(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	s := NewScorer(db, testRisk()).WithClock(func() time.Time { return now })

	check, err := s.ComprehensiveCheck(context.Background(), "u1", "d1",
		Candidate{FromAccount: "acct-a", ToAccount: "acct-b", AmountMinor: 2500, Currency: "USD"},
		domain.RequestMetadata{})
	require.NoError(t, err)
	require.Contains(t, check.RiskFactors, "insufficient_history")
	require.InDelta(t, 0.2, check.Pattern.Score, 1e-9)
	// 0.2 * 0.4 pattern weight only; well under the monitor threshold.
	require.Equal(t, LevelMinimal, check.RiskLevel)
	require.Equal(t, RecommendAllow, check.Recommendation)
}

func TestDeterministicClassification(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	seedHistory(t, db, now, 5, 2000)
	s := NewScorer(db, testRisk()).WithClock(func() time.Time { return now })
	cand := Candidate{FromAccount: "acct-a", ToAccount: "acct-c", AmountMinor: 50_000, Currency: "USD"}

	first, err := s.ComprehensiveCheck(context.Background(), "u1", "d1", cand, domain.RequestMetadata{})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := s.ComprehensiveCheck(context.Background(), "u1", "d1", cand, domain.RequestMetadata{})
		require.NoError(t, err)
		require.Equal(t, first.OverallRiskScore, again.OverallRiskScore)
		require.Equal(t, first.RiskLevel, again.RiskLevel)
		require.Equal(t, first.Recommendation, again.Recommendation)
		require.ElementsMatch(t, first.RiskFactors, again.RiskFactors)
	}
}

func TestLargeAmountToNewRecipient(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	seedHistory(t, db, now, 5, 2000)
	s := NewScorer(db, testRisk()).WithClock(func() time.Time { return now })

	check, err := s.ComprehensiveCheck(context.Background(), "u1", "d1",
		Candidate{FromAccount: "acct-a", ToAccount: "acct-new", AmountMinor: 50_000, Currency: "USD"},
		domain.RequestMetadata{})
	require.NoError(t, err)
	require.Contains(t, check.RiskFactors, "large_amount")
	require.Contains(t, check.RiskFactors, "new_recipient_large_amount")
}

func TestAmountAnomalyZScore(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	// History with non-zero variance: 1900, 2000, 2100.
	for i, amt := range []int64{1900, 2000, 2100} {
		require.NoError(t, db.Create(&domain.Transaction{
			TxnID: fmt.Sprintf("v-%d", i), Type: "p2p",
			FromAccount: "acct-a", ToAccount: "acct-b",
			AmountMinor: amt, Currency: "USD", Status: domain.TxnSuccess,
			CreatedAt: now.Add(-time.Duration(i+2) * 24 * time.Hour),
		}).Error)
	}
	s := NewScorer(db, testRisk()).WithClock(func() time.Time { return now })

	check, err := s.ComprehensiveCheck(context.Background(), "u1", "d1",
		Candidate{FromAccount: "acct-a", ToAccount: "acct-b", AmountMinor: 3000, Currency: "USD"},
		domain.RequestMetadata{})
	require.NoError(t, err)
	// 3000 is 10 standard deviations above a 2000 mean.
	require.Contains(t, check.RiskFactors, "amount_anomaly")
}

func TestHighFrequencyVelocity(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	for i := 0; i < 6; i++ {
		require.NoError(t, db.Create(&domain.Transaction{
			TxnID: fmt.Sprintf("hf-%d", i), Type: "p2p",
			FromAccount: "acct-a", ToAccount: "acct-b",
			AmountMinor: 2000, Currency: "USD", Status: domain.TxnSuccess,
			CreatedAt: now.Add(-time.Duration(i+1) * time.Minute),
		}).Error)
	}
	s := NewScorer(db, testRisk()).WithClock(func() time.Time { return now })

	check, err := s.ComprehensiveCheck(context.Background(), "u1", "d1",
		Candidate{FromAccount: "acct-a", ToAccount: "acct-b", AmountMinor: 2000, Currency: "USD"},
		domain.RequestMetadata{})
	require.NoError(t, err)
	require.Contains(t, check.RiskFactors, "high_frequency")
}

func TestNewDeviceFactor(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	require.NoError(t, db.Create(&domain.Device{
		DeviceID: "d-fresh", UserID: "u1", PublicKey: "pem",
		CreatedAt: now.Add(-1 * time.Hour), // Registered under 24h ago
	}).Error)
	s := NewScorer(db, testRisk()).WithClock(func() time.Time { return now })

	check, err := s.ComprehensiveCheck(context.Background(), "u1", "d-fresh",
		Candidate{FromAccount: "acct-a", ToAccount: "acct-b", AmountMinor: 100, Currency: "USD"},
		domain.RequestMetadata{})
	require.NoError(t, err)
	require.Contains(t, check.RiskFactors, "new_device")
}

func TestUnfamiliarIPAndUserAgent(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	seedHistory(t, db, now, 4, 2000) // Prior traffic from 10.0.0.1 / app/1.0
	s := NewScorer(db, testRisk()).WithClock(func() time.Time { return now })

	check, err := s.ComprehensiveCheck(context.Background(), "u1", "d1",
		Candidate{FromAccount: "acct-a", ToAccount: "acct-b", AmountMinor: 2000, Currency: "USD"},
		domain.RequestMetadata{IPAddress: "203.0.113.9", UserAgent: "curl/8.0"})
	require.NoError(t, err)
	require.Contains(t, check.RiskFactors, "new_ip_address")
	require.Contains(t, check.RiskFactors, "new_user_agent")
}

func TestCircularTransactions(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, db.Create(&domain.Transaction{
			TxnID: fmt.Sprintf("circ-%d", i), Type: "p2p",
			FromAccount: "acct-b", ToAccount: "acct-a",
			AmountMinor: 500, Currency: "USD", Status: domain.TxnSuccess,
			CreatedAt: now.Add(-time.Duration(i+1) * time.Hour),
		}).Error)
	}
	s := NewScorer(db, testRisk()).WithClock(func() time.Time { return now })

	check, err := s.ComprehensiveCheck(context.Background(), "u1", "d1",
		Candidate{FromAccount: "acct-a", ToAccount: "acct-b", AmountMinor: 500, Currency: "USD"},
		domain.RequestMetadata{})
	require.NoError(t, err)
	require.Contains(t, check.RiskFactors, "circular_transactions")
}

func TestStructuringPattern(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	// Four transfers just under the reporting threshold within 24h.
	for i := 0; i < 4; i++ {
		require.NoError(t, db.Create(&domain.Transaction{
			TxnID: fmt.Sprintf("str-%d", i), Type: "p2p",
			FromAccount: "acct-a", ToAccount: fmt.Sprintf("acct-%d", i),
			AmountMinor: 4950, Currency: "USD", Status: domain.TxnSuccess,
			CreatedAt: now.Add(-time.Duration(i+1) * time.Hour),
		}).Error)
	}
	s := NewScorer(db, testRisk()).WithClock(func() time.Time { return now })

	check, err := s.ComprehensiveCheck(context.Background(), "u1", "d1",
		Candidate{FromAccount: "acct-a", ToAccount: "acct-x", AmountMinor: 4950, Currency: "USD"},
		domain.RequestMetadata{})
	require.NoError(t, err)
	require.Contains(t, check.RiskFactors, "structuring_pattern")
}

func TestSubAnalysisErrorSurfaces(t *testing.T) {
	db := newTestDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close()) // Force every query to fail

	s := NewScorer(db, testRisk())
	_, err = s.ComprehensiveCheck(context.Background(), "u1", "d1",
		Candidate{FromAccount: "acct-a", ToAccount: "acct-b", AmountMinor: 100, Currency: "USD"},
		domain.RequestMetadata{})
	require.Error(t, err, "a failed sub-analysis must not read as low risk")
}
