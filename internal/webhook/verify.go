package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Verification errors. ErrInvalidSignature is non-retryable (the gateway
// should not redeliver a forged or corrupt event); ErrVerifierUnavailable
// is retryable (key material temporarily missing).
var (
	ErrInvalidSignature    = errors.New("webhook signature is invalid")
	ErrVerifierUnavailable = errors.New("webhook verification temporarily unavailable")
)

// Verifier authenticates gateway events before any state mutation.
// Events are signed with HMAC-SHA256 over the raw body, hex-encoded in
// the X-Gateway-Signature header.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier from the shared webhook secret
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify checks the signature header against the raw request body.
// No side effects happen before this passes.
func (v *Verifier) Verify(body []byte, signatureHeader string) error {
	if len(v.secret) == 0 {
		return ErrVerifierUnavailable
	}
	if signatureHeader == "" {
		return ErrInvalidSignature
	}

	provided, err := hex.DecodeString(signatureHeader)
	if err != nil {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	expected := mac.Sum(nil)

	if !hmac.Equal(provided, expected) {
		return ErrInvalidSignature
	}

	return nil
}

// Sign computes the signature for a body. Used by tests and local tooling.
func (v *Verifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
