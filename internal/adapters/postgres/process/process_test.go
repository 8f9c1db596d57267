package process

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/AureliaStudio/conveyor/internal/longprocess"
	"github.com/AureliaStudio/conveyor/internal/payloads"
	"github.com/AureliaStudio/conveyor/pkg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessPostgreSQLModel_RoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	waitingFor := "PaymentReceived"
	lastError := "carrier rejected"

	steps := longprocess.NewProcessSteps(
		[]string{"charge", "ship"},
		map[string]string{"charge": "refund_charge"},
	)
	steps.Advance()
	steps.RecordCheckpoint("charge", payloads.Envelope{Tag: "txn", Data: json.RawMessage(`{"txn":"t1"}`)})

	p := &longprocess.Process{
		ID:            pkg.GenerateUUIDv4().String(),
		ProcessName:   "order_fulfilment",
		BusinessData:  map[string]any{"order": float64(42)},
		Steps:         steps,
		StepName:      "ship",
		Status:        longprocess.StatusSuspended,
		WaitingFor:    &waitingFor,
		MatchCriteria: map[string]any{"order_id": float64(42)},
		Payload:       payloads.Envelope{Tag: "stage", Data: json.RawMessage(`{"value":"P1"}`)},
		CorrelationID: pkg.GenerateUUIDv4().String(),
		LastError:     &lastError,
		CreatedAt:     now,
		UpdatedAt:     now,
		BlogID:        2,
	}

	model := &ProcessPostgreSQLModel{}
	require.NoError(t, model.FromEntity(p))

	restored, err := model.ToEntity()
	require.NoError(t, err)

	assert.Equal(t, p.ID, restored.ID)
	assert.Equal(t, p.ProcessName, restored.ProcessName)
	assert.Equal(t, p.BusinessData, restored.BusinessData)
	assert.Equal(t, p.Status, restored.Status)
	assert.Equal(t, *p.WaitingFor, *restored.WaitingFor)
	assert.Equal(t, p.MatchCriteria, restored.MatchCriteria)
	assert.Equal(t, p.Payload.Tag, restored.Payload.Tag)
	assert.Equal(t, *p.LastError, *restored.LastError)

	// The step schema is frozen: it survives persistence unchanged.
	assert.Equal(t, steps.Steps, restored.Steps.Steps)
	assert.Equal(t, steps.Compensations, restored.Steps.Compensations)
	assert.Equal(t, steps.StepIndex, restored.Steps.StepIndex)
	assert.Equal(t, steps.UndoIndex, restored.Steps.UndoIndex)
	assert.Equal(t, "txn", restored.Steps.CheckpointFor("charge").Tag)
}

func TestProcessPostgreSQLModel_MinimalProcess(t *testing.T) {
	p := &longprocess.Process{
		ID:            pkg.GenerateUUIDv4().String(),
		ProcessName:   "minimal",
		Steps:         longprocess.NewProcessSteps([]string{"only"}, nil),
		Status:        longprocess.StatusPending,
		CorrelationID: pkg.GenerateUUIDv4().String(),
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}

	model := &ProcessPostgreSQLModel{}
	require.NoError(t, model.FromEntity(p))

	restored, err := model.ToEntity()
	require.NoError(t, err)

	assert.Nil(t, restored.WaitingFor)
	assert.Nil(t, restored.LastError)
	assert.Equal(t, -1, restored.Steps.UndoIndex)
}
