package llm

import (
	"errors"
	"strings"
)

// ErrNotConfigured is returned when no provider API key is available.
var ErrNotConfigured = errors.New("completion service not configured: missing API key")

// Error codes surfaced to clients so they can present differentiated
// backoff guidance. All other completion-service failures are reported as a
// generic error with the underlying message (empty code).
const (
	CodeExhausted     = "exhausted"
	CodeRateLimited   = "rate-limited"
	CodeQuotaExceeded = "quota-exceeded"
)

// Classify maps a completion-service error to one of the client-facing
// codes. It inspects the error message for known patterns and returns the
// most specific code that matches, or "" for unrecognized errors.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())

	// Key exhaustion: 401/403, unauthorized, invalid or revoked keys.
	if strings.Contains(msg, "401") ||
		strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "forbidden") ||
		strings.Contains(msg, "invalid key") ||
		strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "api key expired") ||
		errors.Is(err, ErrNotConfigured) {
		return CodeExhausted
	}

	// Quota and billing conditions: checked before rate limiting because
	// provider quota messages frequently also contain "limit".
	if strings.Contains(msg, "quota") ||
		strings.Contains(msg, "billing") ||
		strings.Contains(msg, "payment") ||
		strings.Contains(msg, "insufficient funds") {
		return CodeQuotaExceeded
	}

	// Rate limiting: 429, too many requests.
	if strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "too many requests") {
		return CodeRateLimited
	}

	return ""
}
