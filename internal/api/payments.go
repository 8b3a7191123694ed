package api

import (
	"net/http"
	"time"

	"payment_engine/internal/compliance"
	"payment_engine/internal/domain"
	"payment_engine/internal/engine"

	"github.com/gin-gonic/gin" // Gin web framework
)

// paymentRequest is the signed payment submission body.
type paymentRequest struct {
	FromAccount string     `json:"from_account" binding:"required"`
	ToAccount   string     `json:"to_account" binding:"required"`
	AmountMinor int64      `json:"amount_minor" binding:"required,gt=0"`
	Currency    string     `json:"currency" binding:"required"`
	DeviceID    string     `json:"device_id" binding:"required"`
	Nonce       string     `json:"nonce" binding:"required"`
	Timestamp   int64      `json:"ts" binding:"required"`
	Signature   string     `json:"signature" binding:"required"`
	Intent      string     `json:"intent"`
	Memo        string     `json:"memo"`
	Priority    int        `json:"priority"`     // Scheduled payments only
	ScheduledAt *time.Time `json:"scheduled_at"` // Scheduled payments only
}

func (p *paymentRequest) toEngine(c *gin.Context) engine.PaymentRequest {
	return engine.PaymentRequest{
		UserID:      c.GetString("userID"),
		DeviceID:    p.DeviceID,
		FromAccount: p.FromAccount,
		ToAccount:   p.ToAccount,
		AmountMinor: p.AmountMinor,
		Currency:    p.Currency,
		Nonce:       p.Nonce,
		Timestamp:   p.Timestamp,
		Signature:   p.Signature,
		Intent:      p.Intent,
		Memo:        p.Memo,
		Metadata: domain.RequestMetadata{
			IPAddress: c.ClientIP(),
			UserAgent: c.GetHeader("User-Agent"),
			DeviceID:  p.DeviceID,
			Endpoint:  c.FullPath(),
		},
	}
}

// statusFor maps a pipeline rejection code to its HTTP status.
func statusFor(code string) int {
	switch code {
	case engine.CodeRateLimited:
		return http.StatusTooManyRequests
	case engine.CodeBiometricInvalid:
		return http.StatusUnauthorized
	case engine.CodeRiskBlocked, engine.CodeRiskReview,
		compliance.CodeKYCRequired, compliance.CodeAMLBlock, compliance.CodeConsentRequired:
		return http.StatusForbidden
	case "SENDER_ACCOUNT_NOT_FOUND", "RECEIVER_ACCOUNT_NOT_FOUND":
		return http.StatusNotFound
	case compliance.CodeDailyLimitExceeded, compliance.CodeMonthlyLimitExceeded,
		"INSUFFICIENT_FUNDS", "ACCOUNT_INACTIVE":
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

// ProcessPayment runs the full pipeline and commits immediately.
func ProcessPayment(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req paymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		out, err := eng.ProcessPayment(c.Request.Context(), req.toEngine(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "payment processing failed"})
			return
		}
		if !out.Allowed {
			c.JSON(statusFor(out.Code), out)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// SchedulePayment verifies authorization now and queues settlement.
func SchedulePayment(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req paymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var scheduledAt time.Time
		if req.ScheduledAt != nil {
			scheduledAt = *req.ScheduledAt
		}
		out, err := eng.EnqueuePayment(c.Request.Context(), req.toEngine(c), req.Priority, scheduledAt)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "payment scheduling failed"})
			return
		}
		if !out.Allowed {
			c.JSON(statusFor(out.Code), out)
			return
		}
		c.JSON(http.StatusAccepted, out)
	}
}
