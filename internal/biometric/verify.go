package biometric

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"time"

	"payment_engine/internal/config"

	"github.com/sirupsen/logrus" // Logging library
)

// Verifier checks biometric signatures and device attestations. All
// verification failures collapse to a boolean or a structured reason; no
// cryptographic internals leak to callers.
type Verifier struct {
	cfg config.BiometricConfig
	now func() time.Time
}

// NewVerifier builds a verifier from configuration.
func NewVerifier(cfg config.BiometricConfig) *Verifier {
	return &Verifier{cfg: cfg, now: time.Now}
}

// WithClock overrides the time source. Test hook.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// VerifySignature verifies an RSA PKCS#1 v1.5 / SHA-256 signature over the
// canonical form of payload. Returns false on any failure: malformed key,
// undersized key, bad encoding, or signature mismatch.
func (v *Verifier) VerifySignature(publicKeyPEM string, payload any, signatureB64 string) bool {
	if publicKeyPEM == "" || payload == nil || signatureB64 == "" {
		return false
	}
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return false
	}
	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false
	}
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return false
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return false
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return false
	}
	// Reject keys below the configured floor regardless of signature validity.
	if pub.Size()*8 < v.cfg.MinKeyBits {
		logrus.WithField("key_bits", pub.Size()*8).Warn("Biometric key below minimum size")
		return false
	}
	digest := sha256.Sum256(canonical)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], signature) == nil
}

// TimestampResult reports a freshness check on a caller-supplied timestamp.
type TimestampResult struct {
	Valid      bool   `json:"valid"`
	AgeSeconds int64  `json:"age_seconds"` // Negative when the timestamp is in the future
	Reason     string `json:"reason"`
}

// VerifyTimestamp rejects intents whose timestamp falls outside the freshness
// window in either direction: stale timestamps defeat replay, future ones
// defeat clock-skew games.
func (v *Verifier) VerifyTimestamp(ts int64) TimestampResult {
	age := v.now().Unix() - ts
	max := int64(v.cfg.FreshnessWindow / time.Second)
	res := TimestampResult{AgeSeconds: age}
	switch {
	case age > max:
		res.Reason = "timestamp too old"
	case age < -max:
		res.Reason = "timestamp from future"
	default:
		res.Valid = true
		res.Reason = "timestamp valid"
	}
	return res
}
