package compliance

import (
	"context"
	"time"

	"payment_engine/internal/config"
	"payment_engine/internal/domain"

	"gorm.io/gorm" // GORM ORM library
)

// LimitsChecker vetoes when adding the current amount would exceed the daily
// or calendar-month debit cap.
type LimitsChecker struct {
	db  *gorm.DB
	cfg config.ComplianceConfig
}

// NewLimitsChecker builds the spend limit checker.
func NewLimitsChecker(db *gorm.DB, cfg config.ComplianceConfig) *LimitsChecker {
	return &LimitsChecker{db: db, cfg: cfg}
}

// Name implements Checker.
func (c *LimitsChecker) Name() string { return "spend_limits" }

// Evaluate implements Checker.
func (c *LimitsChecker) Evaluate(ctx context.Context, chk *CheckContext) (Verdict, error) {
	dayStart := time.Date(chk.Now.Year(), chk.Now.Month(), chk.Now.Day(), 0, 0, 0, 0, chk.Now.Location())
	monthStart := time.Date(chk.Now.Year(), chk.Now.Month(), 1, 0, 0, 0, 0, chk.Now.Location())

	dailySpent, err := c.debitTotalSince(ctx, chk.AccountID, dayStart)
	if err != nil {
		return Verdict{}, err
	}
	monthlySpent, err := c.debitTotalSince(ctx, chk.AccountID, monthStart)
	if err != nil {
		return Verdict{}, err
	}

	if dailySpent+chk.AmountMinor > c.cfg.DailyLimitMinor {
		return Verdict{
			Code:   CodeDailyLimitExceeded,
			Reason: "daily spending limit exceeded",
			Details: map[string]any{
				"daily_spent": dailySpent,
				"daily_limit": c.cfg.DailyLimitMinor,
			},
		}, nil
	}
	if monthlySpent+chk.AmountMinor > c.cfg.MonthlyLimitMinor {
		return Verdict{
			Code:   CodeMonthlyLimitExceeded,
			Reason: "monthly spending limit exceeded",
			Details: map[string]any{
				"monthly_spent": monthlySpent,
				"monthly_limit": c.cfg.MonthlyLimitMinor,
			},
		}, nil
	}

	v := Verdict{Passed: true}
	if chk.AmountMinor >= c.cfg.SuspiciousMinor {
		// Flagged for review downstream, not vetoed.
		v.Flags = append(v.Flags, "high_amount")
	}
	return v, nil
}

func (c *LimitsChecker) debitTotalSince(ctx context.Context, accountID string, since time.Time) (int64, error) {
	var total int64
	err := c.db.WithContext(ctx).Model(&domain.LedgerEntry{}).
		Where("account_id = ? AND direction = ? AND created_at >= ?", accountID, domain.EntryDebit, since).
		Select("COALESCE(SUM(amount_minor), 0)").
		Scan(&total).Error
	return total, err
}

// KYCChecker vetoes when the user's identity profile is incomplete, unverified
// or past its renewal window.
type KYCChecker struct {
	db  *gorm.DB
	cfg config.ComplianceConfig
}

// NewKYCChecker builds the KYC checker.
func NewKYCChecker(db *gorm.DB, cfg config.ComplianceConfig) *KYCChecker {
	return &KYCChecker{db: db, cfg: cfg}
}

// Name implements Checker.
func (c *KYCChecker) Name() string { return "kyc" }

// Evaluate implements Checker.
func (c *KYCChecker) Evaluate(ctx context.Context, chk *CheckContext) (Verdict, error) {
	var user domain.User
	if err := c.db.WithContext(ctx).Where("user_id = ?", chk.UserID).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return Verdict{Code: CodeKYCRequired, Reason: "user not found"}, nil
		}
		return Verdict{}, err
	}

	var missing []string
	if user.FullName == "" {
		missing = append(missing, "full_name")
	}
	if user.DateOfBirth == "" {
		missing = append(missing, "date_of_birth")
	}
	if user.Address == "" {
		missing = append(missing, "address")
	}
	if !user.PhoneVerified {
		missing = append(missing, "phone_verified")
	}
	if !user.EmailVerified {
		missing = append(missing, "email_verified")
	}
	if len(missing) > 0 {
		return Verdict{
			Code:    CodeKYCRequired,
			Reason:  "KYC incomplete",
			Details: map[string]any{"missing_fields": missing},
		}, nil
	}
	if !user.IdentityVerified {
		return Verdict{Code: CodeKYCRequired, Reason: "identity verification required"}, nil
	}
	if user.KYCVerifiedAt != nil && chk.Now.Sub(*user.KYCVerifiedAt) > c.cfg.KYCValidity {
		return Verdict{Code: CodeKYCRequired, Reason: "KYC verification expired"}, nil
	}
	return Verdict{Passed: true}, nil
}

// AMLChecker vetoes when the user's identity, email or phone matches a
// sanctions-list entry.
type AMLChecker struct {
	db *gorm.DB
}

// NewAMLChecker builds the AML sanctions checker.
func NewAMLChecker(db *gorm.DB) *AMLChecker {
	return &AMLChecker{db: db}
}

// Name implements Checker.
func (c *AMLChecker) Name() string { return "aml_sanctions" }

// Evaluate implements Checker.
func (c *AMLChecker) Evaluate(ctx context.Context, chk *CheckContext) (Verdict, error) {
	var user domain.User
	if err := c.db.WithContext(ctx).Where("user_id = ?", chk.UserID).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return Verdict{Code: CodeAMLBlock, Reason: "user not found"}, nil
		}
		return Verdict{}, err
	}
	var entry domain.SanctionEntry
	err := c.db.WithContext(ctx).
		Where("user_id = ?", chk.UserID).
		Or("email != '' AND email = ?", user.Email).
		Or("phone != '' AND phone = ?", user.Phone).
		First(&entry).Error
	if err == nil {
		return Verdict{
			Code:    CodeAMLBlock,
			Reason:  "user on sanctions list",
			Details: map[string]any{"sanction_type": entry.Type},
		}, nil
	}
	if err != gorm.ErrRecordNotFound {
		return Verdict{}, err
	}
	return Verdict{Passed: true}, nil
}

// ConsentChecker vetoes when no active, unexpired consent exists for the
// payment processing purpose.
type ConsentChecker struct {
	db *gorm.DB
}

// NewConsentChecker builds the consent checker.
func NewConsentChecker(db *gorm.DB) *ConsentChecker {
	return &ConsentChecker{db: db}
}

// Name implements Checker.
func (c *ConsentChecker) Name() string { return "consent" }

// Evaluate implements Checker.
func (c *ConsentChecker) Evaluate(ctx context.Context, chk *CheckContext) (Verdict, error) {
	var consent domain.Consent
	err := c.db.WithContext(ctx).
		Where("user_id = ? AND consent_type = ? AND status = ?", chk.UserID, ConsentPayment, "active").
		First(&consent).Error
	if err == gorm.ErrRecordNotFound {
		return Verdict{Code: CodeConsentRequired, Reason: "no active consent for payment processing"}, nil
	}
	if err != nil {
		return Verdict{}, err
	}
	if consent.ExpiresAt != nil && consent.ExpiresAt.Before(chk.Now) {
		return Verdict{Code: CodeConsentRequired, Reason: "consent expired"}, nil
	}
	return Verdict{Passed: true}, nil
}

// DefaultGate composes the production checker order: limits, KYC, AML, consent.
func DefaultGate(db *gorm.DB, cfg config.ComplianceConfig) *Gate {
	return NewGate(db,
		NewLimitsChecker(db, cfg),
		NewKYCChecker(db, cfg),
		NewAMLChecker(db),
		NewConsentChecker(db),
	)
}
