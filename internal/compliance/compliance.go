// Package compliance enforces the regulatory gate in front of the ledger:
// spend limits, KYC validity, AML sanction screening and processing consent.
// Checks run in a fixed order and each is a hard veto.
package compliance

import (
	"context"
	"fmt"
	"time"

	"payment_engine/internal/domain"

	"github.com/sirupsen/logrus" // Logging library
	"gorm.io/gorm"               // GORM ORM library
)

// Stable veto codes surfaced to callers.
const (
	CodeDailyLimitExceeded   = "DAILY_LIMIT_EXCEEDED"
	CodeMonthlyLimitExceeded = "MONTHLY_LIMIT_EXCEEDED"
	CodeKYCRequired          = "KYC_REQUIRED"
	CodeAMLBlock             = "AML_BLOCK"
	CodeConsentRequired      = "CONSENT_REQUIRED"
)

// ConsentPayment is the processing purpose required for a payment.
const ConsentPayment = "payment_processing"

// CheckContext carries everything a checker may need to evaluate one payment.
type CheckContext struct {
	UserID      string
	AccountID   string // Debit side account
	AmountMinor int64
	Currency    string
	Metadata    domain.RequestMetadata
	Now         time.Time
}

// Verdict is a single checker's decision.
type Verdict struct {
	Passed  bool
	Code    string // Veto code when Passed is false
	Reason  string
	Flags   []string // Non-vetoing observations, e.g. high_amount
	Details map[string]any
}

// Checker is one pluggable compliance rule. Checkers are composed by the Gate
// in a fixed order; adding or removing a rule never touches the pipeline
// driver. A non-nil error means the rule could not be evaluated and is not a
// policy decision; only a returned Verdict vetoes.
type Checker interface {
	Name() string
	Evaluate(ctx context.Context, chk *CheckContext) (Verdict, error)
}

// Result is the gate's combined outcome.
type Result struct {
	Allowed   bool
	Code      string // First veto code, if any
	Reason    string
	FailedAt  string // Name of the vetoing checker
	Flags     []string
	Snapshot  domain.ComplianceSnapshot
}

// Gate runs the ordered checker pipeline and records every veto as a
// compliance event before returning it.
type Gate struct {
	db       *gorm.DB
	checkers []Checker
	now      func() time.Time
}

// NewGate composes checkers in evaluation order.
func NewGate(db *gorm.DB, checkers ...Checker) *Gate {
	return &Gate{db: db, checkers: checkers, now: time.Now}
}

// WithClock overrides the time source. Test hook.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Evaluate runs every checker in order, short-circuiting on the first veto.
// An error means a checker could not consult its store; callers must treat it
// as infrastructure failure, never as a veto.
func (g *Gate) Evaluate(ctx context.Context, chk *CheckContext) (Result, error) {
	chk.Now = g.now()
	res := Result{Allowed: true}
	for _, c := range g.checkers {
		v, err := c.Evaluate(ctx, chk)
		if err != nil {
			return Result{}, fmt.Errorf("%s check: %w", c.Name(), err)
		}
		res.Flags = append(res.Flags, v.Flags...)
		if !v.Passed {
			res.Allowed = false
			res.Code = v.Code
			res.Reason = v.Reason
			res.FailedAt = c.Name()
			g.logEvent(ctx, "compliance_veto", chk, map[string]any{
				"checker":      c.Name(),
				"code":         v.Code,
				"reason":       v.Reason,
				"amount_minor": chk.AmountMinor,
			})
			return res, nil
		}
	}
	res.Snapshot = domain.ComplianceSnapshot{
		KYCVerified:     true,
		AMLClear:        true,
		LimitsValidated: true,
		Flags:           res.Flags,
	}
	return res, nil
}

// LogEvent records a compliance event outside the veto path (e.g. a completed
// transaction).
func (g *Gate) LogEvent(ctx context.Context, eventType, userID string, details map[string]any, meta domain.RequestMetadata) {
	g.writeLog(ctx, eventType, userID, details, meta)
}

func (g *Gate) logEvent(ctx context.Context, eventType string, chk *CheckContext, details map[string]any) {
	g.writeLog(ctx, eventType, chk.UserID, details, chk.Metadata)
}

func (g *Gate) writeLog(ctx context.Context, eventType, userID string, details map[string]any, meta domain.RequestMetadata) {
	entry := domain.ComplianceLog{
		EventType: eventType,
		UserID:    userID,
		Details:   details,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Timestamp: g.now(),
	}
	if err := g.db.WithContext(ctx).Create(&entry).Error; err != nil {
		logrus.WithFields(logrus.Fields{"event_type": eventType, "error": err.Error()}).
			Error("Failed to persist compliance event")
	}
	logrus.WithFields(logrus.Fields{"event_type": eventType, "user_id": userID}).
		Info("Compliance event")
}
