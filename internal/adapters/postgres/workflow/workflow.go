package workflow

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/AureliaStudio/conveyor/internal/behaviour"
	"github.com/AureliaStudio/conveyor/internal/payloads"
)

// WorkflowPostgreSQLModel represents the entity behaviour.Workflow into SQL context in Database
type WorkflowPostgreSQLModel struct {
	ID             string
	RefID          string
	RefType        string
	RootWorkflowID sql.NullString
	Configs        []byte
	Results        []byte
	CurrentIdx     int
	CurrentPhase   int
	IsComplete     bool
	IsFailed       bool
	Meta           []byte
	CreatedAt      time.Time
	UpdatedAt      time.Time
	BlogID         int64
}

// ToEntity converts a WorkflowPostgreSQLModel to a response entity behaviour.Workflow,
// decoding the polymorphic configs through the payload codec.
func (m *WorkflowPostgreSQLModel) ToEntity(codec *payloads.Registry) (*behaviour.Workflow, error) {
	w := &behaviour.Workflow{
		ID:           m.ID,
		RefID:        m.RefID,
		RefType:      m.RefType,
		CurrentIdx:   m.CurrentIdx,
		CurrentPhase: m.CurrentPhase,
		IsComplete:   m.IsComplete,
		IsFailed:     m.IsFailed,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
		BlogID:       m.BlogID,
	}

	if m.RootWorkflowID.Valid {
		rootID := m.RootWorkflowID.String
		w.RootWorkflowID = &rootID
	}

	if len(m.Configs) > 0 {
		var envelopes []payloads.Envelope
		if err := json.Unmarshal(m.Configs, &envelopes); err != nil {
			return nil, err
		}

		w.Configs = make([]behaviour.Config, len(envelopes))

		for i, envelope := range envelopes {
			decoded, err := codec.Decode(envelope)
			if err != nil {
				return nil, err
			}

			config, ok := decoded.(behaviour.Config)
			if !ok {
				continue
			}

			w.Configs[i] = config
		}
	}

	if len(m.Results) > 0 {
		if err := json.Unmarshal(m.Results, &w.Results); err != nil {
			return nil, err
		}
	}

	if w.Results == nil {
		w.Results = make([]*behaviour.ExecutionResult, len(w.Configs))
	}

	if len(m.Meta) > 0 {
		if err := json.Unmarshal(m.Meta, &w.Meta); err != nil {
			return nil, err
		}
	}

	return w, nil
}

// FromEntity converts a request entity behaviour.Workflow to WorkflowPostgreSQLModel
func (m *WorkflowPostgreSQLModel) FromEntity(w *behaviour.Workflow, codec *payloads.Registry) error {
	envelopes := make([]payloads.Envelope, len(w.Configs))

	for i, config := range w.Configs {
		envelope, err := codec.Encode(config)
		if err != nil {
			return err
		}

		envelopes[i] = envelope
	}

	configs, err := json.Marshal(envelopes)
	if err != nil {
		return err
	}

	results, err := json.Marshal(w.Results)
	if err != nil {
		return err
	}

	meta, err := json.Marshal(w.Meta)
	if err != nil {
		return err
	}

	*m = WorkflowPostgreSQLModel{
		ID:           w.ID,
		RefID:        w.RefID,
		RefType:      w.RefType,
		Configs:      configs,
		Results:      results,
		CurrentIdx:   w.CurrentIdx,
		CurrentPhase: w.CurrentPhase,
		IsComplete:   w.IsComplete,
		IsFailed:     w.IsFailed,
		Meta:         meta,
		CreatedAt:    w.CreatedAt,
		UpdatedAt:    w.UpdatedAt,
		BlogID:       w.BlogID,
	}

	if w.RootWorkflowID != nil {
		m.RootWorkflowID = sql.NullString{String: *w.RootWorkflowID, Valid: true}
	}

	return nil
}
