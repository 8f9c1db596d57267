package workflow

import (
	"testing"
	"time"

	"github.com/AureliaStudio/conveyor/internal/behaviour"
	"github.com/AureliaStudio/conveyor/internal/payloads"
	"github.com/AureliaStudio/conveyor/pkg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncMediaConfig struct {
	Size int `json:"size"`
}

func (c *syncMediaConfig) Tag() string           { return "sync_media" }
func (c *syncMediaConfig) DefaultBatchSize() int { return c.Size }

func testWorkflowCodec() *payloads.Registry {
	codec := payloads.NewRegistry()
	codec.Register("sync_media", func() payloads.Payload { return &syncMediaConfig{} })

	return codec
}

func TestWorkflowPostgreSQLModel_RoundTrip(t *testing.T) {
	codec := testWorkflowCodec()

	now := time.Now().UTC().Truncate(time.Second)
	rootID := pkg.GenerateUUIDv4().String()

	result := behaviour.NewExecutionResult("sync_media", behaviour.StatusFailed, 1)
	merged := result.FollowUp(behaviour.NewExecutionResult("sync_media", behaviour.StatusCompleted, 1))

	w := &behaviour.Workflow{
		ID:             pkg.GenerateUUIDv4().String(),
		RefID:          "post-9",
		RefType:        "post",
		RootWorkflowID: &rootID,
		Configs:        []behaviour.Config{&syncMediaConfig{Size: 25}},
		Results:        []*behaviour.ExecutionResult{&merged},
		CurrentIdx:     1,
		CurrentPhase:   1,
		IsComplete:     true,
		Meta:           map[string]string{"origin": "import"},
		CreatedAt:      now,
		UpdatedAt:      now,
		BlogID:         3,
	}

	model := &WorkflowPostgreSQLModel{}
	require.NoError(t, model.FromEntity(w, codec))

	restored, err := model.ToEntity(codec)
	require.NoError(t, err)

	assert.Equal(t, w.ID, restored.ID)
	assert.Equal(t, w.RefID, restored.RefID)
	assert.Equal(t, *w.RootWorkflowID, *restored.RootWorkflowID)
	assert.Equal(t, w.CurrentIdx, restored.CurrentIdx)
	assert.True(t, restored.IsComplete)
	assert.Equal(t, w.Meta, restored.Meta)

	require.Len(t, restored.Configs, 1)
	config, ok := restored.Configs[0].(*syncMediaConfig)
	require.True(t, ok, "configs decode back to their concrete type")
	assert.Equal(t, 25, config.Size)

	require.Len(t, restored.Results, 1)
	assert.Equal(t, behaviour.StatusCompleted, restored.Results[0].Status)
	assert.Len(t, restored.Results[0].History, 1, "result history survives persistence")
}

func TestWorkflowPostgreSQLModel_EmptyResults(t *testing.T) {
	codec := testWorkflowCodec()

	w := behaviour.NewWorkflow("post-1", "post", []behaviour.Config{&syncMediaConfig{Size: 10}}, nil, 0)

	model := &WorkflowPostgreSQLModel{}
	require.NoError(t, model.FromEntity(w, codec))

	restored, err := model.ToEntity(codec)
	require.NoError(t, err)

	require.Len(t, restored.Results, 1)
	assert.Nil(t, restored.Results[0], "unexecuted steps keep nil results")
	assert.Nil(t, restored.RootWorkflowID)
	assert.False(t, restored.IsFork())
}
