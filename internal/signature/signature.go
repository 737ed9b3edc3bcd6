// Package signature implements HMAC verification of processor signals.
// Comparison is constant-time; callers must treat a mismatch uniformly so
// the response never reveals which check failed.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Compute returns the hex-encoded HMAC-SHA256 of body keyed by secret.
func Compute(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhook checks the signature header of a webhook delivery against
// the HMAC of the raw, unparsed body.
func VerifyWebhook(body []byte, secret, provided string) bool {
	expected := Compute(body, secret)
	return hmac.Equal([]byte(expected), []byte(provided))
}

// VerifyCallback checks a redirect-callback signature. The processor signs
// the pipe-joined callback fields with the key secret.
func VerifyCallback(fields []string, secret, provided string) bool {
	message := strings.Join(fields, "|")
	expected := Compute([]byte(message), secret)
	return hmac.Equal([]byte(expected), []byte(provided))
}
