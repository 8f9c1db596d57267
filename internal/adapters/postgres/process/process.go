package process

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/AureliaStudio/conveyor/internal/longprocess"
)

// ProcessPostgreSQLModel represents the entity longprocess.Process into SQL context in Database
type ProcessPostgreSQLModel struct {
	ID            string
	ProcessClass  string
	BusinessData  []byte
	Steps         []byte
	StepIndex     int
	StepName      sql.NullString
	Status        string
	WaitingFor    sql.NullString
	MatchCriteria []byte
	Payload       []byte
	CorrelationID string
	LastError     sql.NullString
	CreatedAt     time.Time
	UpdatedAt     time.Time
	BlogID        int64
}

// ToEntity converts a ProcessPostgreSQLModel to a response entity longprocess.Process
func (m *ProcessPostgreSQLModel) ToEntity() (*longprocess.Process, error) {
	p := &longprocess.Process{
		ID:            m.ID,
		ProcessName:   m.ProcessClass,
		Status:        longprocess.Status(m.Status),
		CorrelationID: m.CorrelationID,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
		BlogID:        m.BlogID,
	}

	if len(m.BusinessData) > 0 {
		if err := json.Unmarshal(m.BusinessData, &p.BusinessData); err != nil {
			return nil, err
		}
	}

	if len(m.Steps) > 0 {
		if err := json.Unmarshal(m.Steps, &p.Steps); err != nil {
			return nil, err
		}
	}

	if len(m.MatchCriteria) > 0 {
		if err := json.Unmarshal(m.MatchCriteria, &p.MatchCriteria); err != nil {
			return nil, err
		}
	}

	if len(m.Payload) > 0 {
		if err := json.Unmarshal(m.Payload, &p.Payload); err != nil {
			return nil, err
		}
	}

	if m.StepName.Valid {
		p.StepName = m.StepName.String
	}

	if m.WaitingFor.Valid {
		waitingFor := m.WaitingFor.String
		p.WaitingFor = &waitingFor
	}

	if m.LastError.Valid {
		lastError := m.LastError.String
		p.LastError = &lastError
	}

	return p, nil
}

// FromEntity converts a request entity longprocess.Process to ProcessPostgreSQLModel
func (m *ProcessPostgreSQLModel) FromEntity(p *longprocess.Process) error {
	businessData, err := json.Marshal(p.BusinessData)
	if err != nil {
		return err
	}

	steps, err := json.Marshal(p.Steps)
	if err != nil {
		return err
	}

	matchCriteria, err := json.Marshal(p.MatchCriteria)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return err
	}

	*m = ProcessPostgreSQLModel{
		ID:            p.ID,
		ProcessClass:  p.ProcessName,
		BusinessData:  businessData,
		Steps:         steps,
		StepIndex:     p.Steps.StepIndex,
		Status:        string(p.Status),
		MatchCriteria: matchCriteria,
		Payload:       payload,
		CorrelationID: p.CorrelationID,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
		BlogID:        p.BlogID,
	}

	if p.StepName != "" {
		m.StepName = sql.NullString{String: p.StepName, Valid: true}
	}

	if p.WaitingFor != nil {
		m.WaitingFor = sql.NullString{String: *p.WaitingFor, Valid: true}
	}

	if p.LastError != nil {
		m.LastError = sql.NullString{String: *p.LastError, Valid: true}
	}

	return nil
}
