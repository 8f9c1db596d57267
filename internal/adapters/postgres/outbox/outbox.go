package outbox

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/AureliaStudio/conveyor/internal/events"
	"github.com/AureliaStudio/conveyor/internal/outbox"
)

// OutboxPostgreSQLModel represents the entity outbox.Entry into SQL context in Database
type OutboxPostgreSQLModel struct {
	ID                int64
	EventID           string
	EventType         string
	IntegrationAction string
	MessageKind       string
	Transport         string
	Queue             sql.NullString
	PayloadBytes      int
	CorrelationID     string
	Sequence          int64
	CommandID         sql.NullString
	Payload           []byte
	DelaySeconds      int
	ScheduledAt       time.Time
	IsUnique          bool
	Status            string
	Attempts          int
	MaxAttempts       int
	NextAttemptAt     sql.NullTime
	LockedUntil       sql.NullTime
	LockedBy          sql.NullString
	LastError         sql.NullString
	ErrorHistory      []byte
	CreatedAt         time.Time
	ProcessedAt       sql.NullTime
	BlogID            int64
}

// ToEntity converts an OutboxPostgreSQLModel to a response entity outbox.Entry
func (m *OutboxPostgreSQLModel) ToEntity() (*outbox.Entry, error) {
	entry := &outbox.Entry{
		ID:                m.ID,
		EventID:           m.EventID,
		EventType:         m.EventType,
		IntegrationAction: m.IntegrationAction,
		MessageKind:       events.MessageKind(m.MessageKind),
		Transport:         outbox.Transport(m.Transport),
		PayloadBytes:      m.PayloadBytes,
		CorrelationID:     m.CorrelationID,
		Sequence:          m.Sequence,
		DelaySeconds:      m.DelaySeconds,
		ScheduledAt:       m.ScheduledAt,
		IsUnique:          m.IsUnique,
		Status:            outbox.OutboxStatus(m.Status),
		Attempts:          m.Attempts,
		MaxAttempts:       m.MaxAttempts,
		CreatedAt:         m.CreatedAt,
		BlogID:            m.BlogID,
	}

	if len(m.Payload) > 0 {
		if err := json.Unmarshal(m.Payload, &entry.Payload); err != nil {
			return nil, err
		}
	}

	if len(m.ErrorHistory) > 0 {
		if err := json.Unmarshal(m.ErrorHistory, &entry.ErrorHistory); err != nil {
			return nil, err
		}
	}

	if m.Queue.Valid {
		queue := m.Queue.String
		entry.Queue = &queue
	}

	if m.CommandID.Valid {
		commandID := m.CommandID.String
		entry.CommandID = &commandID
	}

	if m.NextAttemptAt.Valid {
		nextAttemptAt := m.NextAttemptAt.Time
		entry.NextAttemptAt = &nextAttemptAt
	}

	if m.LockedUntil.Valid {
		lockedUntil := m.LockedUntil.Time
		entry.LockedUntil = &lockedUntil
	}

	if m.LockedBy.Valid {
		lockedBy := m.LockedBy.String
		entry.LockedBy = &lockedBy
	}

	if m.LastError.Valid {
		lastError := m.LastError.String
		entry.LastError = &lastError
	}

	if m.ProcessedAt.Valid {
		processedAt := m.ProcessedAt.Time
		entry.ProcessedAt = &processedAt
	}

	return entry, nil
}

// FromEntity converts a request entity outbox.Entry to OutboxPostgreSQLModel
func (m *OutboxPostgreSQLModel) FromEntity(entry *outbox.Entry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return err
	}

	history := entry.ErrorHistory
	if history == nil {
		history = []outbox.ErrorRecord{}
	}

	historyRaw, err := json.Marshal(history)
	if err != nil {
		return err
	}

	*m = OutboxPostgreSQLModel{
		ID:                entry.ID,
		EventID:           entry.EventID,
		EventType:         entry.EventType,
		IntegrationAction: entry.IntegrationAction,
		MessageKind:       string(entry.MessageKind),
		Transport:         string(entry.Transport),
		PayloadBytes:      entry.PayloadBytes,
		CorrelationID:     entry.CorrelationID,
		Sequence:          entry.Sequence,
		Payload:           payload,
		DelaySeconds:      entry.DelaySeconds,
		ScheduledAt:       entry.ScheduledAt,
		IsUnique:          entry.IsUnique,
		Status:            string(entry.Status),
		Attempts:          entry.Attempts,
		MaxAttempts:       entry.MaxAttempts,
		ErrorHistory:      historyRaw,
		CreatedAt:         entry.CreatedAt,
		BlogID:            entry.BlogID,
	}

	if entry.Queue != nil {
		m.Queue = sql.NullString{String: *entry.Queue, Valid: true}
	}

	if entry.CommandID != nil {
		m.CommandID = sql.NullString{String: *entry.CommandID, Valid: true}
	}

	if entry.NextAttemptAt != nil {
		m.NextAttemptAt = sql.NullTime{Time: *entry.NextAttemptAt, Valid: true}
	}

	if entry.LockedUntil != nil {
		m.LockedUntil = sql.NullTime{Time: *entry.LockedUntil, Valid: true}
	}

	if entry.LockedBy != nil {
		m.LockedBy = sql.NullString{String: *entry.LockedBy, Valid: true}
	}

	if entry.LastError != nil {
		m.LastError = sql.NullString{String: *entry.LastError, Valid: true}
	}

	if entry.ProcessedAt != nil {
		m.ProcessedAt = sql.NullTime{Time: *entry.ProcessedAt, Valid: true}
	}

	return nil
}

// DLQPostgreSQLModel represents the entity outbox.DLQEntry into SQL context in Database
type DLQPostgreSQLModel struct {
	ID                int64
	EventID           string
	EventType         string
	IntegrationAction string
	CorrelationID     string
	Payload           []byte
	Attempts          int
	FinalError        string
	MovedAt           time.Time
	ResolvedAt        sql.NullTime
	BlogID            int64
}

// ToEntity converts a DLQPostgreSQLModel to a response entity outbox.DLQEntry
func (m *DLQPostgreSQLModel) ToEntity() (*outbox.DLQEntry, error) {
	entry := &outbox.DLQEntry{
		ID:                m.ID,
		EventID:           m.EventID,
		EventType:         m.EventType,
		IntegrationAction: m.IntegrationAction,
		CorrelationID:     m.CorrelationID,
		Attempts:          m.Attempts,
		FinalError:        m.FinalError,
		MovedAt:           m.MovedAt,
		BlogID:            m.BlogID,
	}

	if len(m.Payload) > 0 {
		if err := json.Unmarshal(m.Payload, &entry.Payload); err != nil {
			return nil, err
		}
	}

	if m.ResolvedAt.Valid {
		resolvedAt := m.ResolvedAt.Time
		entry.ResolvedAt = &resolvedAt
	}

	return entry, nil
}
