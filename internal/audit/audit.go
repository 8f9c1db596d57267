package audit

import (
	"context"
	"strings"
	"time"
)

// Status is the lifecycle of one command audit row.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusSuccess    Status = "SUCCESS"
	StatusError      Status = "ERROR"
)

// Source identifies where a command came from.
type Source string

const (
	SourceUser   Source = "USER"
	SourceCLI    Source = "CLI"
	SourceSystem Source = "SYSTEM"
)

// CommandAudit is one row per handled command: a preflight record written
// before the handler runs, finalized with the outcome afterwards. The final
// write happens even when the command's transaction rolled back.
type CommandAudit struct {
	ID              int64
	CommandID       string
	CorrelationID   string
	CommandName     string
	Status          Status
	Source          Source
	SourceID        *string
	StartedAt       time.Time
	FinishedAt      *time.Time
	DurationMs      *int64
	PeakMemoryBytes *int64
	Parameters      map[string]any
	Events          []string
	ErrorType       *string
	ErrorMessage    *string
	ErrorCode       *string
	Environment     string
	BlogID          int64
}

// Repository persists command audit rows.
type Repository interface {
	CreatePreflight(ctx context.Context, a *CommandAudit) (*CommandAudit, error)
	Finalize(ctx context.Context, a *CommandAudit) error
}

var sensitiveKeyFragments = []string{"password", "secret", "token", "key", "credential"}

// RedactParameters replaces sensitive-looking values before persistence.
func RedactParameters(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}

	out := make(map[string]any, len(params))

	for k, v := range params {
		if isSensitiveKey(k) {
			out[k] = "[REDACTED]"
			continue
		}

		if nested, ok := v.(map[string]any); ok {
			out[k] = RedactParameters(nested)
			continue
		}

		out[k] = v
	}

	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)

	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}

	return false
}
