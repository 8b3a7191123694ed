package api

import (
	"net/http"

	"payment_engine/internal/biometric"
	"payment_engine/internal/nonce"
	"payment_engine/internal/ratelimit"

	"github.com/gin-gonic/gin" // Gin web framework
)

// IssueNonce hands out a single-use challenge bound to (user, device). The
// biometric rate limit applies so a device cannot farm challenges.
func IssueNonce(svc *nonce.Service, limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			DeviceID string `json:"device_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		userID := c.GetString("userID")

		limit, err := limiter.Check(c.Request.Context(), userID, "biometric", c.ClientIP())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "nonce issuance failed"})
			return
		}
		if !limit.Allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many attempts", "rate_limit": limit})
			return
		}
		_ = limiter.Record(c.Request.Context(), userID, "biometric", c.ClientIP(), true)

		token, err := svc.Issue(c.Request.Context(), userID, req.DeviceID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "nonce issuance failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"nonce": token})
	}
}

// ValidateAttestation checks device attestation evidence and reports the
// resulting security level.
func ValidateAttestation(verifier *biometric.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		var att biometric.Attestation
		if err := c.ShouldBindJSON(&att); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res := verifier.ValidateAttestation(att)
		status := http.StatusOK
		if !res.Valid {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, res)
	}
}
