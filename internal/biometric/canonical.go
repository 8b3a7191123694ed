// Package biometric validates proof-of-presence: device signatures over
// canonicalized payment intents, and device attestation freshness/integrity.
package biometric

import "encoding/json"

// PaymentIntent is the payload a device signs to authorize one payment.
type PaymentIntent struct {
	UserID    string `json:"user_id"`
	DeviceID  string `json:"device_id"`
	Nonce     string `json:"nonce"`
	Timestamp int64  `json:"ts"`
	Intent    string `json:"intent"` // p2p, merchant, scheduled
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	ToAccount string `json:"to_account"`
	Memo      string `json:"memo"`
}

// CanonicalJSON serializes v into a deterministic byte form: object keys
// sorted, no insignificant whitespace. Signer and verifier must hash
// identical bytes, so the value is round-tripped through a generic document
// before encoding.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	// encoding/json writes map keys in sorted order with no extra whitespace.
	return json.Marshal(doc)
}
