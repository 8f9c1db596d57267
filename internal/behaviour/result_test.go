package behaviour

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFollowUp_HistoryGrowsByOne(t *testing.T) {
	first := NewExecutionResult("sync", StatusFailed, 1)

	second := first.FollowUp(NewExecutionResult("sync", StatusFailed, 1))
	assert.Len(t, second.History, 1)

	third := second.FollowUp(NewExecutionResult("sync", StatusCompleted, 1))
	assert.Len(t, third.History, 2)
	assert.Equal(t, StatusCompleted, third.Status)
}

func TestFollowUp_HistoryNeverNests(t *testing.T) {
	first := NewExecutionResult("sync", StatusFailed, 1)
	second := first.FollowUp(NewExecutionResult("sync", StatusFailed, 1))
	third := second.FollowUp(NewExecutionResult("sync", StatusFailed, 1))

	for _, h := range third.History {
		assert.Empty(t, h.History, "appended history entries carry no history of their own")
	}
}

func TestFollowUp_NewestHistoryFirst(t *testing.T) {
	first := NewExecutionResult("sync", StatusFailed, 1)
	first.Context = map[string]any{"attempt": 1}

	second := first.FollowUp(NewExecutionResult("sync", StatusFailed, 1))
	second.History[0].Context = map[string]any{"attempt": 1}

	third := second.FollowUp(NewExecutionResult("sync", StatusCompleted, 1))

	require.Len(t, third.History, 2)
	assert.Equal(t, StatusFailed, third.History[0].Status)
}

func TestFailureCount(t *testing.T) {
	result := NewExecutionResult("sync", StatusFailed, 1)
	assert.Zero(t, result.FailureCount())

	merged := result.FollowUp(NewExecutionResult("sync", StatusFailed, 1))
	assert.Equal(t, 1, merged.FailureCount())

	merged = merged.FollowUp(NewExecutionResult("sync", StatusFailed, 1))
	assert.Equal(t, 2, merged.FailureCount())
}

func TestExecutionStatus_IsProgress(t *testing.T) {
	assert.True(t, StatusCompleted.IsProgress())
	assert.True(t, StatusForked.IsProgress())
	assert.True(t, StatusSkipped.IsProgress())
	assert.True(t, StatusCancelled.IsProgress())
	assert.True(t, StatusPreempted.IsProgress())
	assert.False(t, StatusFailed.IsProgress())
	assert.False(t, StatusBatched.IsProgress())
	assert.False(t, StatusWaiting.IsProgress())
}
