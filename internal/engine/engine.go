// Package engine drives the payment pipeline: rate limit, nonce consumption,
// device signature verification, fraud scoring, the compliance gate and
// finally the atomic ledger commit. Order matters; the cheap checks run first
// and every rejection is recorded before it is returned.
package engine

import (
	"context"
	"errors"
	"time"

	"payment_engine/internal/biometric"
	"payment_engine/internal/compliance"
	"payment_engine/internal/config"
	"payment_engine/internal/domain"
	"payment_engine/internal/fraud"
	"payment_engine/internal/ledger"
	"payment_engine/internal/metrics"
	"payment_engine/internal/nonce"
	"payment_engine/internal/notify"
	"payment_engine/internal/queue"
	"payment_engine/internal/ratelimit"
	"payment_engine/internal/seclog"

	"github.com/sirupsen/logrus" // Logging library
	"gorm.io/gorm"               // GORM ORM library
)

// Pipeline result codes not owned by a downstream component.
const (
	CodeCompleted        = "COMPLETED"
	CodeQueued           = "QUEUED"
	CodeRateLimited      = "RATE_LIMITED"
	CodeBiometricInvalid = "BIOMETRIC_INVALID"
	CodeRiskBlocked      = "RISK_BLOCKED"
	CodeRiskReview       = "RISK_REVIEW"
)

const actionPayment = "payment"

// PaymentRequest is one signed payment authorization attempt.
type PaymentRequest struct {
	UserID      string
	DeviceID    string
	FromAccount string
	ToAccount   string
	AmountMinor int64
	Currency    string
	Nonce       string
	Timestamp   int64 // Unix seconds, signed by the device
	Signature   string
	Intent      string // p2p, merchant, scheduled
	Memo        string
	Metadata    domain.RequestMetadata
}

// Outcome is the pipeline's terminal decision for one request.
type Outcome struct {
	Allowed   bool                 `json:"allowed"`
	Code      string               `json:"code"`
	Reason    string               `json:"reason,omitempty"`
	Risk      *fraud.Check         `json:"risk,omitempty"`
	Result    *ledger.CommitResult `json:"result,omitempty"`
	QueueItem *domain.QueueItem    `json:"queue_item,omitempty"`
	RateLimit *ratelimit.Result    `json:"rate_limit,omitempty"`
}

// Deps wires the pipeline stages.
type Deps struct {
	DB       *gorm.DB
	Config   *config.Config
	Nonces   *nonce.Service
	Verifier *biometric.Verifier
	Scorer   *fraud.Scorer
	Gate     *compliance.Gate
	Ledger   *ledger.Engine
	Limiter  *ratelimit.Limiter
	Security *seclog.Logger
	Notifier *notify.Notifier
}

// Engine executes the payment pipeline.
type Engine struct {
	db       *gorm.DB
	cfg      *config.Config
	nonces   *nonce.Service
	verifier *biometric.Verifier
	scorer   *fraud.Scorer
	gate     *compliance.Gate
	ledger   *ledger.Engine
	limiter  *ratelimit.Limiter
	security *seclog.Logger
	notifier *notify.Notifier
	queue    *queue.Manager
}

// New builds the pipeline from its stages.
func New(d Deps) *Engine {
	return &Engine{
		db:       d.DB,
		cfg:      d.Config,
		nonces:   d.Nonces,
		verifier: d.Verifier,
		scorer:   d.Scorer,
		gate:     d.Gate,
		ledger:   d.Ledger,
		limiter:  d.Limiter,
		security: d.Security,
		notifier: d.Notifier,
	}
}

// AttachQueue connects the deferred-settlement queue. The queue's processor is
// SettleQueued, so attachment happens after construction.
func (e *Engine) AttachQueue(m *queue.Manager) {
	e.queue = m
}

func deny(code, reason string) *Outcome {
	metrics.PaymentsTotal.WithLabelValues("rejected", code).Inc()
	return &Outcome{Code: code, Reason: reason}
}

// recordAttempt stamps the terminal outcome of an admitted attempt into the
// rate limit window. Rejections consume the window just like completions.
func (e *Engine) recordAttempt(ctx context.Context, userID, ip string, success bool) {
	if err := e.limiter.Record(ctx, userID, actionPayment, ip, success); err != nil {
		logrus.WithFields(logrus.Fields{"user_id": userID, "error": err.Error()}).
			Error("Failed to record payment attempt")
	}
}

// ProcessPayment runs the full pipeline for an immediate payment. A non-nil
// error means infrastructure failure; business rejections come back as a
// disallowed Outcome with a stable code.
func (e *Engine) ProcessPayment(ctx context.Context, req PaymentRequest) (*Outcome, error) {
	outcome, check, err := e.authorize(ctx, req)
	if err != nil || outcome != nil {
		return outcome, err
	}

	gateRes, err := e.gate.Evaluate(ctx, &compliance.CheckContext{
		UserID:      req.UserID,
		AccountID:   req.FromAccount,
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return nil, err
	}
	if !gateRes.Allowed {
		e.recordAttempt(ctx, req.UserID, req.Metadata.IPAddress, false)
		return deny(gateRes.Code, gateRes.Reason), nil
	}

	start := time.Now()
	result, err := e.ledger.Commit(ctx, ledger.CommitParams{
		UserID:            req.UserID,
		DeviceID:          req.DeviceID,
		Type:              intentOr(req.Intent),
		FromAccount:       req.FromAccount,
		ToAccount:         req.ToAccount,
		AmountMinor:       req.AmountMinor,
		Currency:          req.Currency,
		BiometricVerified: true,
		Compliance:        gateRes.Snapshot,
		Metadata:          req.Metadata,
	})
	metrics.CommitDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		code := ledger.Code(err)
		if code == "LEDGER_ERROR" {
			return nil, err
		}
		e.notifier.SendTransactionNotification(ctx, req.UserID, "", req.AmountMinor, req.Currency, req.ToAccount, false, code)
		e.recordAttempt(ctx, req.UserID, req.Metadata.IPAddress, false)
		return deny(code, err.Error()), nil
	}
	e.recordAttempt(ctx, req.UserID, req.Metadata.IPAddress, true)

	e.gate.LogEvent(ctx, "transaction_completed", req.UserID, map[string]any{
		"txn_id":        result.TxnID,
		"amount_minor":  req.AmountMinor,
		"currency":      req.Currency,
		"to_account":    req.ToAccount,
		"risk_score":    check.OverallRiskScore,
		"audit_pending": result.AuditPending,
	}, req.Metadata)
	e.notifier.SendTransactionNotification(ctx, req.UserID, result.TxnID, req.AmountMinor, req.Currency, req.ToAccount, true, "")
	metrics.PaymentsTotal.WithLabelValues("completed", CodeCompleted).Inc()

	return &Outcome{Allowed: true, Code: CodeCompleted, Risk: check, Result: result}, nil
}

// EnqueuePayment verifies authorization now and defers settlement to the
// queue. Compliance and the ledger run at settlement time against the state
// of the world then.
func (e *Engine) EnqueuePayment(ctx context.Context, req PaymentRequest, priority int, scheduledAt time.Time) (*Outcome, error) {
	if e.queue == nil {
		return nil, errors.New("queue not attached")
	}
	outcome, check, err := e.authorize(ctx, req)
	if err != nil || outcome != nil {
		return outcome, err
	}

	item, err := e.queue.Enqueue(ctx, domain.QueuePayload{
		UserID:            req.UserID,
		FromAccount:       req.FromAccount,
		ToAccount:         req.ToAccount,
		AmountMinor:       req.AmountMinor,
		Currency:          req.Currency,
		BiometricVerified: true,
		Metadata:          req.Metadata,
	}, priority, scheduledAt)
	if err != nil {
		if errors.Is(err, queue.ErrInvalidPriority) {
			e.recordAttempt(ctx, req.UserID, req.Metadata.IPAddress, false)
			return deny("INVALID_PRIORITY", err.Error()), nil
		}
		return nil, err
	}
	e.recordAttempt(ctx, req.UserID, req.Metadata.IPAddress, true)

	metrics.PaymentsTotal.WithLabelValues("queued", CodeQueued).Inc()
	return &Outcome{Allowed: true, Code: CodeQueued, Risk: check, QueueItem: item}, nil
}

// SettleQueued is the queue's settlement processor. Compliance vetoes and
// ledger rejections are permanent; anything else retries.
func (e *Engine) SettleQueued(ctx context.Context, payload domain.QueuePayload) (string, error) {
	gateRes, err := e.gate.Evaluate(ctx, &compliance.CheckContext{
		UserID:      payload.UserID,
		AccountID:   payload.FromAccount,
		AmountMinor: payload.AmountMinor,
		Currency:    payload.Currency,
		Metadata:    payload.Metadata,
	})
	if err != nil {
		return "", err // Transient; the queue retries
	}
	if !gateRes.Allowed {
		e.notifier.SendTransactionNotification(ctx, payload.UserID, "", payload.AmountMinor, payload.Currency, payload.ToAccount, false, gateRes.Code)
		metrics.PaymentsTotal.WithLabelValues("rejected", gateRes.Code).Inc()
		return "", queue.Permanent(errors.New(gateRes.Code))
	}

	start := time.Now()
	result, err := e.ledger.Commit(ctx, ledger.CommitParams{
		UserID:            payload.UserID,
		DeviceID:          payload.Metadata.DeviceID,
		Type:              "scheduled",
		FromAccount:       payload.FromAccount,
		ToAccount:         payload.ToAccount,
		AmountMinor:       payload.AmountMinor,
		Currency:          payload.Currency,
		BiometricVerified: payload.BiometricVerified,
		Compliance:        gateRes.Snapshot,
		Metadata:          payload.Metadata,
	})
	metrics.CommitDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		code := ledger.Code(err)
		if code == "LEDGER_ERROR" {
			return "", err // Transient; the queue retries
		}
		e.notifier.SendTransactionNotification(ctx, payload.UserID, "", payload.AmountMinor, payload.Currency, payload.ToAccount, false, code)
		metrics.PaymentsTotal.WithLabelValues("rejected", code).Inc()
		return "", queue.Permanent(errors.New(code))
	}

	e.gate.LogEvent(ctx, "transaction_completed", payload.UserID, map[string]any{
		"txn_id":       result.TxnID,
		"amount_minor": payload.AmountMinor,
		"currency":     payload.Currency,
		"to_account":   payload.ToAccount,
		"deferred":     true,
	}, payload.Metadata)
	e.notifier.SendTransactionNotification(ctx, payload.UserID, result.TxnID, payload.AmountMinor, payload.Currency, payload.ToAccount, true, "")
	metrics.PaymentsTotal.WithLabelValues("completed", CodeCompleted).Inc()
	return result.TxnID, nil
}

// authorize runs the stages common to immediate and deferred payments. A nil
// outcome with a nil error means the request is authorized; the fraud check is
// returned for attachment to the terminal outcome.
func (e *Engine) authorize(ctx context.Context, req PaymentRequest) (*Outcome, *fraud.Check, error) {
	limit, err := e.limiter.Check(ctx, req.UserID, actionPayment, req.Metadata.IPAddress)
	if err != nil {
		return nil, nil, err
	}
	if !limit.Allowed {
		e.security.LogEvent(ctx, "rate_limit_exceeded", seclog.SeverityMedium, req.UserID, map[string]any{
			"action":   actionPayment,
			"attempts": limit.Attempts,
			"reason":   limit.Reason,
		}, req.Metadata)
		e.notifier.SendSecurityNotification(ctx, req.UserID, "Too many payment attempts",
			"Payments from your account are temporarily blocked. Try again later.")
		out := deny(CodeRateLimited, "too many payment attempts")
		out.RateLimit = &limit
		return out, nil, nil
	}

	if !e.nonces.VerifyAndConsume(ctx, req.Nonce, req.UserID, req.DeviceID) {
		e.security.LogBiometricEvent(ctx, "nonce_rejected", req.UserID, req.DeviceID, false, nil, req.Metadata)
		e.recordAttempt(ctx, req.UserID, req.Metadata.IPAddress, false)
		return deny(CodeBiometricInvalid, "invalid or expired nonce"), nil, nil
	}

	var device domain.Device
	err = e.db.WithContext(ctx).
		Where("device_id = ? AND user_id = ?", req.DeviceID, req.UserID).
		First(&device).Error
	if err == gorm.ErrRecordNotFound {
		e.security.LogBiometricEvent(ctx, "unknown_device", req.UserID, req.DeviceID, false, nil, req.Metadata)
		e.recordAttempt(ctx, req.UserID, req.Metadata.IPAddress, false)
		return deny(CodeBiometricInvalid, "device not registered"), nil, nil
	} else if err != nil {
		return nil, nil, err
	}

	if ts := e.verifier.VerifyTimestamp(req.Timestamp); !ts.Valid {
		e.security.LogBiometricEvent(ctx, "stale_intent", req.UserID, req.DeviceID, false, map[string]any{
			"age_seconds": ts.AgeSeconds,
		}, req.Metadata)
		e.recordAttempt(ctx, req.UserID, req.Metadata.IPAddress, false)
		return deny(CodeBiometricInvalid, ts.Reason), nil, nil
	}

	intent := biometric.PaymentIntent{
		UserID:    req.UserID,
		DeviceID:  req.DeviceID,
		Nonce:     req.Nonce,
		Timestamp: req.Timestamp,
		Intent:    intentOr(req.Intent),
		Amount:    req.AmountMinor,
		Currency:  req.Currency,
		ToAccount: req.ToAccount,
		Memo:      req.Memo,
	}
	if !e.verifier.VerifySignature(device.PublicKey, intent, req.Signature) {
		e.security.LogBiometricEvent(ctx, "signature_verification", req.UserID, req.DeviceID, false, nil, req.Metadata)
		e.recordAttempt(ctx, req.UserID, req.Metadata.IPAddress, false)
		return deny(CodeBiometricInvalid, "signature verification failed"), nil, nil
	}
	e.security.LogBiometricEvent(ctx, "signature_verification", req.UserID, req.DeviceID, true, nil, req.Metadata)

	check, err := e.scorer.ComprehensiveCheck(ctx, req.UserID, req.DeviceID, fraud.Candidate{
		FromAccount: req.FromAccount,
		ToAccount:   req.ToAccount,
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
	}, req.Metadata)
	if err != nil {
		return nil, nil, err
	}
	metrics.FraudChecks.WithLabelValues(check.Recommendation).Inc()

	switch check.Recommendation {
	case fraud.RecommendBlock:
		e.security.LogPaymentEvent(ctx, "risk_blocked", req.UserID, map[string]any{
			"risk_score":   check.OverallRiskScore,
			"risk_factors": check.RiskFactors,
			"amount_minor": req.AmountMinor,
		}, req.Metadata)
		e.notifier.SendFraudAlert(ctx, req.UserID, check.OverallRiskScore, check.RiskFactors, req.AmountMinor, req.ToAccount)
		e.recordAttempt(ctx, req.UserID, req.Metadata.IPAddress, false)
		out := deny(CodeRiskBlocked, "transaction blocked by risk analysis")
		out.Risk = check
		return out, nil, nil
	case fraud.RecommendReview:
		e.security.LogPaymentEvent(ctx, "risk_review", req.UserID, map[string]any{
			"risk_score":   check.OverallRiskScore,
			"risk_factors": check.RiskFactors,
			"amount_minor": req.AmountMinor,
		}, req.Metadata)
		e.notifier.SendSecurityNotification(ctx, req.UserID, "Additional verification required",
			"A payment from your account was held for additional verification.")
		e.recordAttempt(ctx, req.UserID, req.Metadata.IPAddress, false)
		out := deny(CodeRiskReview, "additional verification required")
		out.Risk = check
		return out, nil, nil
	}

	return nil, check, nil
}

func intentOr(intent string) string {
	if intent == "" {
		return "p2p"
	}
	return intent
}
