// Package webhook implements the webhook notification delivery channel:
// structured JSON payloads describing finished generations and spell casts,
// HMAC-SHA256 signing, SSRF-guarded POST delivery, and a fixed internal
// retry schedule.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"conjure/internal/types"
)

// SignatureHeader carries the payload signature so consumers can verify
// without parsing the body first.
const SignatureHeader = "X-Webhook-Signature"

const signaturePrefix = "sha256="

// Sign computes the lowercase hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret types.SecretString) string {
	mac := hmac.New(sha256.New, []byte(secret.Unmask()))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// HeaderValue formats a signature for the X-Webhook-Signature header.
func HeaderValue(signature string) string {
	return signaturePrefix + signature
}

// Verify checks a payload against a signature header value in constant time.
// Accepts the value with or without the "sha256=" prefix so consumers who
// read the body's signature field verbatim also verify cleanly.
func Verify(payload []byte, headerValue string, secret types.SecretString) bool {
	got := strings.TrimPrefix(strings.TrimSpace(headerValue), signaturePrefix)
	want := Sign(payload, secret)
	return hmac.Equal([]byte(got), []byte(want))
}
