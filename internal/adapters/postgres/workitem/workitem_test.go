package workitem

import (
	"testing"
	"time"

	"github.com/AureliaStudio/conveyor/internal/behaviour"
	"github.com/AureliaStudio/conveyor/pkg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkItemPostgreSQLModel_RoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	lastError := "timeout"

	item := &behaviour.WorkItem{
		ID:           7,
		WorkflowID:   pkg.GenerateUUIDv4().String(),
		BehaviourIdx: 2,
		Phase:        3,
		ItemKey:      "media-19",
		Status:       behaviour.ItemFailed,
		Attempts:     2,
		LastError:    &lastError,
		Payload:      map[string]any{"media_id": float64(19)},
		BlogID:       5,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	model := &WorkItemPostgreSQLModel{}
	require.NoError(t, model.FromEntity(item))

	restored, err := model.ToEntity()
	require.NoError(t, err)

	assert.Equal(t, item.WorkflowID, restored.WorkflowID)
	assert.Equal(t, item.BehaviourIdx, restored.BehaviourIdx)
	assert.Equal(t, item.Phase, restored.Phase)
	assert.Equal(t, item.ItemKey, restored.ItemKey)
	assert.Equal(t, item.Status, restored.Status)
	assert.Equal(t, item.Attempts, restored.Attempts)
	assert.Equal(t, *item.LastError, *restored.LastError)
	assert.Equal(t, item.Payload, restored.Payload)
	assert.Equal(t, item.BlogID, restored.BlogID)
}

func TestWorkItemPostgreSQLModel_NoError(t *testing.T) {
	item := behaviour.NewWorkItem("key-1", nil)
	item.WorkflowID = pkg.GenerateUUIDv4().String()

	model := &WorkItemPostgreSQLModel{}
	require.NoError(t, model.FromEntity(item))

	restored, err := model.ToEntity()
	require.NoError(t, err)

	assert.Nil(t, restored.LastError)
	assert.Equal(t, behaviour.ItemPending, restored.Status)
}
