package longprocess

import (
	"encoding/json"
	"testing"

	"github.com/AureliaStudio/conveyor/internal/payloads"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessSteps_ForwardCursor(t *testing.T) {
	steps := NewProcessSteps([]string{"a", "b", "c"}, nil)

	assert.Equal(t, 3, steps.TotalSteps())
	assert.Equal(t, 0, steps.CompletedCount())
	assert.False(t, steps.IsComplete())
	assert.False(t, steps.IsCompensating())

	current, ok := steps.CurrentStep()
	require.True(t, ok)
	assert.Equal(t, "a", current)

	steps.Advance()
	steps.Advance()

	current, ok = steps.CurrentStep()
	require.True(t, ok)
	assert.Equal(t, "c", current)
	assert.Equal(t, 2, steps.CompletedCount())

	steps.Advance()
	assert.True(t, steps.IsComplete())

	_, ok = steps.CurrentStep()
	assert.False(t, ok)
}

func TestProcessSteps_UndoCursor(t *testing.T) {
	steps := NewProcessSteps([]string{"charge", "ship"}, map[string]string{"charge": "refund_charge"})
	steps.Advance()

	// "ship" throws; undo starts at the last completed step.
	steps.BeginUndo("boom")

	assert.True(t, steps.IsCompensating())
	assert.Equal(t, 0, steps.UndoIndex)
	assert.Equal(t, "boom", steps.FailureMsg)

	failed, ok := steps.FailedStep()
	require.True(t, ok)
	assert.Equal(t, "ship", failed)

	undoStep, ok := steps.CurrentUndoStep()
	require.True(t, ok)
	assert.Equal(t, "charge", undoStep)

	comp, ok := steps.CompensationFor("charge")
	require.True(t, ok)
	assert.Equal(t, "refund_charge", comp)

	_, ok = steps.CompensationFor("ship")
	assert.False(t, ok)

	steps.AdvanceUndo()
	assert.False(t, steps.IsCompensating())

	steps.FinishUndo()
	assert.Equal(t, -1, steps.UndoIndex)
}

func TestProcessSteps_BeginUndoOnFirstStep(t *testing.T) {
	steps := NewProcessSteps([]string{"a"}, nil)

	steps.BeginUndo("first step failed")

	assert.False(t, steps.IsCompensating(), "nothing completed, nothing to undo")
}

func TestProcessSteps_Checkpoints(t *testing.T) {
	steps := NewProcessSteps([]string{"charge"}, nil)

	assert.True(t, steps.CheckpointFor("charge").IsZero())

	steps.RecordCheckpoint("charge", payloads.Envelope{Tag: "txn", Data: json.RawMessage(`{"txn":"t1"}`)})

	checkpoint := steps.CheckpointFor("charge")
	assert.Equal(t, "txn", checkpoint.Tag)

	steps.RecordCheckpoint("other", payloads.Envelope{})
	assert.True(t, steps.CheckpointFor("other").IsZero(), "zero checkpoints are not stored")
}

func TestProcessSteps_FrozenAfterReload(t *testing.T) {
	original := NewProcessSteps(
		[]string{"charge", "ship", "notify"},
		map[string]string{"charge": "refund_charge", "ship": "cancel_shipment"},
	)
	original.Advance()
	original.RecordCheckpoint("charge", payloads.Envelope{Tag: "txn", Data: json.RawMessage(`{"txn":"t1"}`)})

	raw, err := json.Marshal(original)
	require.NoError(t, err)

	var reloaded ProcessSteps
	require.NoError(t, json.Unmarshal(raw, &reloaded))

	assert.Equal(t, original.Steps, reloaded.Steps)
	assert.Equal(t, original.Compensations, reloaded.Compensations)
	assert.Equal(t, original.StepIndex, reloaded.StepIndex)
	assert.Equal(t, original.UndoIndex, reloaded.UndoIndex)
	assert.Equal(t, "txn", reloaded.CheckpointFor("charge").Tag)
}
