package outbox

import "regexp"

// MaxErrorMessageLength bounds the stored error strings; the full text stays
// in the worker logs.
const MaxErrorMessageLength = 500

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\-\s()]{7,}\d`)
	ipPattern    = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
)

// SanitizeErrorMessage redacts PII-shaped substrings from an error message and
// truncates it before persistence.
func SanitizeErrorMessage(msg string) string {
	msg = emailPattern.ReplaceAllString(msg, "[REDACTED]")
	msg = ipPattern.ReplaceAllString(msg, "[REDACTED]")
	msg = phonePattern.ReplaceAllString(msg, "[REDACTED]")

	if len(msg) > MaxErrorMessageLength {
		msg = msg[:MaxErrorMessageLength] + "...[truncated]"
	}

	return msg
}
