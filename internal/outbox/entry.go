package outbox

import (
	"encoding/json"
	"math"
	"time"

	"github.com/AureliaStudio/conveyor/internal/events"
	"github.com/AureliaStudio/conveyor/pkg"
)

// DefaultMaxAttempts bounds delivery retries when the configuration does not
// say otherwise.
const DefaultMaxAttempts = 5

// ErrorRecord is one append-only element of an entry's error history.
type ErrorRecord struct {
	Message    string    `json:"message"`
	Attempt    int       `json:"attempt"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Entry is a row of the transactional outbox. It is created inside the command
// transaction and drained by the processor workers.
type Entry struct {
	ID                int64
	EventID           string
	EventType         string
	IntegrationAction string
	MessageKind       events.MessageKind
	Transport         Transport
	Queue             *string
	PayloadBytes      int
	CorrelationID     string
	Sequence          int64
	CommandID         *string
	Payload           map[string]any
	DelaySeconds      int
	ScheduledAt       time.Time
	IsUnique          bool
	Status            OutboxStatus
	Attempts          int
	MaxAttempts       int
	NextAttemptAt     *time.Time
	LockedUntil       *time.Time
	LockedBy          *string
	LastError         *string
	ErrorHistory      []ErrorRecord
	CreatedAt         time.Time
	ProcessedAt       *time.Time
	BlogID            int64
}

// NewEntry builds a pending outbox entry from an integration event. The caller
// supplies the correlation identifiers so the write happens under the command's
// correlation context.
func NewEntry(event events.IntegrationEvent, correlationID string, sequence int64, commandID *string, maxAttempts int, blogID int64) (*Entry, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	payload := events.ScalarizeMap(event.Payload())

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	delay := event.DelaySeconds()
	if delay < 0 {
		delay = 0
	}

	now := time.Now().UTC()

	entry := &Entry{
		EventID:           pkg.GenerateUUIDv4().String(),
		EventType:         event.Name(),
		IntegrationAction: event.IntegrationAction(),
		MessageKind:       events.KindEvent,
		Transport:         TransportInProcess,
		PayloadBytes:      len(raw),
		CorrelationID:     correlationID,
		Sequence:          sequence,
		CommandID:         commandID,
		Payload:           payload,
		DelaySeconds:      delay,
		ScheduledAt:       now.Add(time.Duration(delay) * time.Second),
		IsUnique:          event.IsUnique(),
		Status:            StatusPending,
		Attempts:          0,
		MaxAttempts:       maxAttempts,
		CreatedAt:         now,
		BlogID:            blogID,
	}

	if kinded, ok := event.(events.Kinded); ok {
		entry.MessageKind = kinded.MessageKind()
	}

	if routed, ok := event.(events.Routed); ok {
		if q := routed.Queue(); q != "" {
			entry.Queue = &q
		}
	}

	if transported, ok := event.(Transported); ok {
		entry.Transport = transported.Transport()
	}

	return entry, nil
}

// Transported is implemented by integration events that target the external
// transport instead of the in-process queue.
type Transported interface {
	Transport() Transport
}

// RetryDelay computes the exponential backoff for the given attempt count,
// clamped to max.
func RetryDelay(attempts int, base time.Duration, multiplier float64, max time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	delay := float64(base) * math.Pow(multiplier, float64(attempts-1))
	if delay > float64(max) || delay < 0 {
		return max
	}

	return time.Duration(delay)
}

// DLQEntry is the append-only copy of an entry that exhausted its retry
// budget. It is never mutated except to mark resolution.
type DLQEntry struct {
	ID                int64
	EventID           string
	EventType         string
	IntegrationAction string
	CorrelationID     string
	Payload           map[string]any
	Attempts          int
	FinalError        string
	MovedAt           time.Time
	ResolvedAt        *time.Time
	BlogID            int64
}

// Stats is the grouped view of the outbox returned by the store.
type Stats struct {
	ByStatus      map[OutboxStatus]int64
	UnresolvedDLQ int64
}

// ProcessingResult is the count tuple returned by one processor batch.
type ProcessingResult struct {
	Completed int
	Failed    int
	DLQ       int
	Total     int
}
