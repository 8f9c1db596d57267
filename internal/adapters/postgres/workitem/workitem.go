package workitem

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/AureliaStudio/conveyor/internal/behaviour"
)

// WorkItemPostgreSQLModel represents the entity behaviour.WorkItem into SQL context in Database
type WorkItemPostgreSQLModel struct {
	ID           int64
	WorkflowID   string
	BehaviourIdx int
	Phase        int
	ItemKey      string
	Status       string
	Attempts     int
	LastError    sql.NullString
	Payload      []byte
	BlogID       int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ToEntity converts a WorkItemPostgreSQLModel to a response entity behaviour.WorkItem
func (m *WorkItemPostgreSQLModel) ToEntity() (*behaviour.WorkItem, error) {
	item := &behaviour.WorkItem{
		ID:           m.ID,
		WorkflowID:   m.WorkflowID,
		BehaviourIdx: m.BehaviourIdx,
		Phase:        m.Phase,
		ItemKey:      m.ItemKey,
		Status:       behaviour.WorkItemStatus(m.Status),
		Attempts:     m.Attempts,
		BlogID:       m.BlogID,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}

	if len(m.Payload) > 0 {
		if err := json.Unmarshal(m.Payload, &item.Payload); err != nil {
			return nil, err
		}
	}

	if m.LastError.Valid {
		lastError := m.LastError.String
		item.LastError = &lastError
	}

	return item, nil
}

// FromEntity converts a request entity behaviour.WorkItem to WorkItemPostgreSQLModel
func (m *WorkItemPostgreSQLModel) FromEntity(item *behaviour.WorkItem) error {
	payload, err := json.Marshal(item.Payload)
	if err != nil {
		return err
	}

	*m = WorkItemPostgreSQLModel{
		ID:           item.ID,
		WorkflowID:   item.WorkflowID,
		BehaviourIdx: item.BehaviourIdx,
		Phase:        item.Phase,
		ItemKey:      item.ItemKey,
		Status:       string(item.Status),
		Attempts:     item.Attempts,
		Payload:      payload,
		BlogID:       item.BlogID,
		CreatedAt:    item.CreatedAt,
		UpdatedAt:    item.UpdatedAt,
	}

	if item.LastError != nil {
		m.LastError = sql.NullString{String: *item.LastError, Valid: true}
	}

	return nil
}
