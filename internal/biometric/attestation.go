package biometric

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Security levels reported by attestation validation.
const (
	SecurityNone     = "none"
	SecuritySoftware = "software"
	SecurityHardware = "hardware"
)

// Attestation is the device-supplied evidence that the authentication
// operation ran on genuine hardware.
type Attestation struct {
	Nonce       string `json:"nonce"`        // Base64 challenge material
	PackageName string `json:"package_name"` // App package identity
	AppDigest   string `json:"apk_digest"`   // App binary digest
	TEEEnforced bool   `json:"tee_enforced"` // Hardware-backed keystore flag
	Timestamp   int64  `json:"timestamp"`    // Unix seconds
}

// AttestationResult is the structured outcome of ValidateAttestation.
type AttestationResult struct {
	Valid         bool            `json:"valid"`
	Reason        string          `json:"reason"`
	Checks        map[string]bool `json:"checks"`
	SecurityLevel string          `json:"security_level"`
}

// ValidateAttestation runs the full attestation check set. A disabled TEE flag
// downgrades the security level to software without failing validation; every
// other check is a hard failure.
func (v *Verifier) ValidateAttestation(att Attestation) AttestationResult {
	res := AttestationResult{Checks: map[string]bool{}, SecurityLevel: SecurityNone}

	var missing []string
	if att.Nonce == "" {
		missing = append(missing, "nonce")
	}
	if att.PackageName == "" {
		missing = append(missing, "package_name")
	}
	if att.AppDigest == "" {
		missing = append(missing, "apk_digest")
	}
	if att.Timestamp == 0 {
		missing = append(missing, "timestamp")
	}
	res.Checks["required_fields"] = len(missing) == 0
	if len(missing) > 0 {
		res.Reason = "missing required fields: " + strings.Join(missing, ", ")
		return res
	}

	res.Checks["tee_enforced"] = att.TEEEnforced
	if att.TEEEnforced {
		res.SecurityLevel = SecurityHardware
	} else {
		// Software attestation is allowed but carries a lower security level.
		res.SecurityLevel = SecuritySoftware
	}

	res.Checks["package_integrity"] = att.PackageName == v.cfg.ExpectedPackage
	if !res.Checks["package_integrity"] {
		res.Reason = fmt.Sprintf("invalid package name: %s", att.PackageName)
		return res
	}

	ts := v.VerifyTimestamp(att.Timestamp)
	res.Checks["timestamp_fresh"] = ts.Valid
	if !ts.Valid {
		res.Reason = fmt.Sprintf("attestation not fresh: %s (age %ds)", ts.Reason, ts.AgeSeconds)
		return res
	}

	nonceBytes, err := base64.StdEncoding.DecodeString(att.Nonce)
	res.Checks["nonce_valid"] = err == nil && len(nonceBytes) >= v.cfg.MinNonceBytes
	if !res.Checks["nonce_valid"] {
		res.Reason = "invalid nonce format"
		return res
	}

	res.Checks["apk_digest"] = len(att.AppDigest) >= v.cfg.MinDigestLength
	if !res.Checks["apk_digest"] {
		res.Reason = "invalid app digest"
		return res
	}

	res.Valid = true
	res.Reason = "all attestation checks passed"
	return res
}
