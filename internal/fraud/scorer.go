// Package fraud computes an explainable risk score for a candidate payment
// from three independent analyses: transaction patterns, device behavior and
// the transaction network graph. The scorer is deterministic; identical
// history and candidate always produce the same classification.
package fraud

import (
	"context"
	"math"
	"time"

	"payment_engine/internal/config"
	"payment_engine/internal/domain"

	"golang.org/x/sync/errgroup" // Fan-out/join of the sub-analyses
	"gorm.io/gorm"               // GORM ORM library
)

// Risk levels
const (
	LevelHigh    = "HIGH"
	LevelMedium  = "MEDIUM"
	LevelLow     = "LOW"
	LevelMinimal = "MINIMAL"
)

// Recommendations
const (
	RecommendBlock   = "BLOCK"
	RecommendReview  = "REVIEW"
	RecommendMonitor = "MONITOR"
	RecommendAllow   = "ALLOW"
)

// Amounts in the structuring band sit just under the reporting threshold.
const (
	structuringBandLow  = 4900
	structuringBandHigh = 4999
)

// Candidate is the transaction under evaluation.
type Candidate struct {
	FromAccount string
	ToAccount   string
	AmountMinor int64
	Currency    string
}

// Analysis is one sub-analysis result: a score in [0,1] plus named factors.
type Analysis struct {
	Score   float64        `json:"risk_score"`
	Factors []string       `json:"risk_factors"`
	Details map[string]any `json:"details,omitempty"`
}

// Check is the combined fraud decision.
type Check struct {
	OverallRiskScore float64   `json:"overall_risk_score"`
	RiskLevel        string    `json:"risk_level"`
	Recommendation   string    `json:"recommendation"`
	RiskFactors      []string  `json:"risk_factors"`
	Pattern          Analysis  `json:"pattern_analysis"`
	Device           Analysis  `json:"device_analysis"`
	Network          Analysis  `json:"network_analysis"`
	Timestamp        time.Time `json:"timestamp"`
}

// Scorer runs the fraud analyses against transaction history.
type Scorer struct {
	db  *gorm.DB
	cfg config.RiskConfig
	now func() time.Time
}

// NewScorer builds a fraud scorer.
func NewScorer(db *gorm.DB, cfg config.RiskConfig) *Scorer {
	return &Scorer{db: db, cfg: cfg, now: time.Now}
}

// WithClock overrides the time source. Test hook.
func (s *Scorer) WithClock(now func() time.Time) *Scorer {
	s.now = now
	return s
}

// ComprehensiveCheck runs the three analyses concurrently and combines them
// with fixed weights. A failure in any sub-analysis fails the whole check;
// a partial result must never read as low risk.
func (s *Scorer) ComprehensiveCheck(ctx context.Context, userID, deviceID string, cand Candidate, meta domain.RequestMetadata) (*Check, error) {
	var pattern, device, network Analysis

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		pattern, err = s.analyzePatterns(gctx, cand)
		return err
	})
	g.Go(func() error {
		var err error
		device, err = s.analyzeDevice(gctx, deviceID, meta)
		return err
	})
	g.Go(func() error {
		var err error
		network, err = s.analyzeNetwork(gctx, cand.FromAccount, cand.ToAccount)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	combined := pattern.Score*s.cfg.PatternWeight +
		device.Score*s.cfg.DeviceWeight +
		network.Score*s.cfg.NetworkWeight

	check := &Check{
		OverallRiskScore: combined,
		Pattern:          pattern,
		Device:           device,
		Network:          network,
		Timestamp:        s.now(),
	}
	check.RiskFactors = append(check.RiskFactors, pattern.Factors...)
	check.RiskFactors = append(check.RiskFactors, device.Factors...)
	check.RiskFactors = append(check.RiskFactors, network.Factors...)

	switch {
	case combined >= s.cfg.BlockThreshold:
		check.RiskLevel = LevelHigh
		check.Recommendation = RecommendBlock
	case combined >= s.cfg.ReviewLevel:
		check.RiskLevel = LevelMedium
		check.Recommendation = RecommendReview
	case combined >= s.cfg.MonitorLevel:
		check.RiskLevel = LevelLow
		check.Recommendation = RecommendMonitor
	default:
		check.RiskLevel = LevelMinimal
		check.Recommendation = RecommendAllow
	}
	return check, nil
}

// analyzePatterns flags anomalies against the sender's 30-day history.
func (s *Scorer) analyzePatterns(ctx context.Context, cand Candidate) (Analysis, error) {
	now := s.now()
	var recent []domain.Transaction
	err := s.db.WithContext(ctx).
		Where("(from_account = ? OR to_account = ?) AND created_at >= ? AND status = ?",
			cand.FromAccount, cand.FromAccount, now.Add(-30*24*time.Hour), domain.TxnSuccess).
		Order("created_at DESC").Limit(100).
		Find(&recent).Error
	if err != nil {
		return Analysis{}, err
	}

	if len(recent) < 3 {
		// Not enough history for pattern analysis; fixed low score.
		return Analysis{Score: 0.2, Factors: []string{"insufficient_history"}}, nil
	}

	amounts := make([]float64, len(recent))
	for i, txn := range recent {
		amounts[i] = float64(txn.AmountMinor)
	}
	avg := mean(amounts)
	std := stddev(amounts, avg)
	current := float64(cand.AmountMinor)

	a := Analysis{Details: map[string]any{"avg_amount": avg, "std_amount": std}}

	if std > 0 {
		z := math.Abs((current - avg) / std)
		if z > 3 {
			a.Factors = append(a.Factors, "amount_anomaly")
			a.Score += 0.4
		} else if z > 2 {
			a.Factors = append(a.Factors, "amount_unusual")
			a.Score += 0.2
		}
	}

	if current > avg*5 {
		a.Factors = append(a.Factors, "large_amount")
		a.Score += 0.3
	}

	usualHours := map[int]bool{}
	for _, txn := range recent {
		usualHours[txn.CreatedAt.Hour()] = true
	}
	if !usualHours[now.Hour()] && len(usualHours) > 3 {
		a.Factors = append(a.Factors, "unusual_time")
		a.Score += 0.2
	}

	lastHour := 0
	for _, txn := range recent {
		if txn.CreatedAt.After(now.Add(-time.Hour)) {
			lastHour++
		}
	}
	if lastHour > 5 {
		a.Factors = append(a.Factors, "high_frequency")
		a.Score += 0.3
	}

	knownRecipient := false
	for _, txn := range recent {
		if txn.ToAccount == cand.ToAccount {
			knownRecipient = true
			break
		}
	}
	if !knownRecipient && current > avg {
		a.Factors = append(a.Factors, "new_recipient_large_amount")
		a.Score += 0.25
	}

	a.Score = math.Min(a.Score, 1.0)
	return a, nil
}

// analyzeDevice flags brand-new devices and unfamiliar request fingerprints.
func (s *Scorer) analyzeDevice(ctx context.Context, deviceID string, meta domain.RequestMetadata) (Analysis, error) {
	now := s.now()
	var deviceTxns []domain.Transaction
	err := s.db.WithContext(ctx).
		Where("device_id = ? AND created_at >= ? AND status = ?",
			deviceID, now.Add(-7*24*time.Hour), domain.TxnSuccess).
		Limit(50).
		Find(&deviceTxns).Error
	if err != nil {
		return Analysis{}, err
	}

	a := Analysis{Details: map[string]any{"total_transactions": len(deviceTxns)}}

	if len(deviceTxns) == 0 {
		var device domain.Device
		err := s.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&device).Error
		if err == nil && now.Sub(device.CreatedAt) < 24*time.Hour {
			a.Factors = append(a.Factors, "new_device")
			a.Score += 0.3
		} else if err != nil && err != gorm.ErrRecordNotFound {
			return Analysis{}, err
		}
	}

	if meta.IPAddress != "" {
		knownIPs := map[string]bool{}
		for _, txn := range deviceTxns {
			if txn.Metadata.IPAddress != "" {
				knownIPs[txn.Metadata.IPAddress] = true
			}
		}
		if len(knownIPs) > 0 && !knownIPs[meta.IPAddress] {
			a.Factors = append(a.Factors, "new_ip_address")
			a.Score += 0.2
		}
	}

	if meta.UserAgent != "" {
		knownUAs := map[string]bool{}
		for _, txn := range deviceTxns {
			if txn.Metadata.UserAgent != "" {
				knownUAs[txn.Metadata.UserAgent] = true
			}
		}
		if len(knownUAs) > 0 && !knownUAs[meta.UserAgent] {
			a.Factors = append(a.Factors, "new_user_agent")
			a.Score += 0.15
		}
	}

	a.Score = math.Min(a.Score, 1.0)
	return a, nil
}

// analyzeNetwork flags circular flows, fan-in bursts and structuring.
func (s *Scorer) analyzeNetwork(ctx context.Context, fromAccount, toAccount string) (Analysis, error) {
	now := s.now()
	a := Analysis{}

	var circular int64
	err := s.db.WithContext(ctx).Model(&domain.Transaction{}).
		Where("((from_account = ? AND to_account = ?) OR (from_account = ? AND to_account = ?)) AND created_at >= ?",
			toAccount, fromAccount, fromAccount, toAccount, now.Add(-24*time.Hour)).
		Count(&circular).Error
	if err != nil {
		return Analysis{}, err
	}
	if circular > 2 {
		a.Factors = append(a.Factors, "circular_transactions")
		a.Score += 0.4
	}

	var inbound int64
	err = s.db.WithContext(ctx).Model(&domain.Transaction{}).
		Where("to_account = ? AND created_at >= ?", toAccount, now.Add(-6*time.Hour)).
		Count(&inbound).Error
	if err != nil {
		return Analysis{}, err
	}
	if inbound > 15 {
		a.Factors = append(a.Factors, "high_recipient_activity")
		a.Score += 0.3
	}

	var structuring int64
	err = s.db.WithContext(ctx).Model(&domain.Transaction{}).
		Where("from_account = ? AND created_at >= ? AND amount_minor BETWEEN ? AND ?",
			fromAccount, now.Add(-24*time.Hour), structuringBandLow, structuringBandHigh).
		Count(&structuring).Error
	if err != nil {
		return Analysis{}, err
	}
	if structuring > 3 {
		a.Factors = append(a.Factors, "structuring_pattern")
		a.Score += 0.5
	}

	a.Details = map[string]any{
		"circular_transactions":     circular,
		"recipient_recent_activity": inbound,
		"threshold_transactions":    structuring,
	}
	a.Score = math.Min(a.Score, 1.0)
	return a, nil
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev is the sample standard deviation (n-1 denominator).
func stddev(xs []float64, avg float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		d := x - avg
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}
