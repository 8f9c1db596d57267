package behaviour

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/AureliaStudio/conveyor/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWorkflowRepo struct {
	mu        sync.Mutex
	workflows map[string]*Workflow
}

func newFakeWorkflowRepo() *fakeWorkflowRepo {
	return &fakeWorkflowRepo{workflows: make(map[string]*Workflow)}
}

func (f *fakeWorkflowRepo) GetByID(ctx context.Context, id string) (*Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.workflows[id]
	if !ok {
		return nil, errors.New("workflow not found")
	}

	return w, nil
}

func (f *fakeWorkflowRepo) GetByRefID(ctx context.Context, refID, refType string) ([]*Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*Workflow

	for _, w := range f.workflows {
		if w.RefID == refID && w.RefType == refType {
			out = append(out, w)
		}
	}

	return out, nil
}

func (f *fakeWorkflowRepo) Save(ctx context.Context, w *Workflow) (*Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.workflows[w.ID] = w

	return w, nil
}

func (f *fakeWorkflowRepo) children(rootID string) []*Workflow {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*Workflow

	for _, w := range f.workflows {
		if w.RootWorkflowID != nil && *w.RootWorkflowID == rootID {
			out = append(out, w)
		}
	}

	return out
}

type fakeItemRepo struct {
	mu     sync.Mutex
	items  []*WorkItem
	nextID int64
}

func newFakeItemRepo() *fakeItemRepo {
	return &fakeItemRepo{nextID: 1}
}

func (f *fakeItemRepo) GetByID(ctx context.Context, id int64) (*WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, item := range f.items {
		if item.ID == id {
			return item, nil
		}
	}

	return nil, errors.New("work item not found")
}

func (f *fakeItemRepo) FindByUnique(ctx context.Context, workflowID string, behaviourIdx, phase int, itemKey string) (*WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, item := range f.items {
		if item.WorkflowID == workflowID && item.BehaviourIdx == behaviourIdx && item.Phase == phase && item.ItemKey == itemKey {
			return item, nil
		}
	}

	return nil, errors.New("work item not found")
}

func (f *fakeItemRepo) GetForStep(ctx context.Context, workflowID string, behaviourIdx, phase int) (WorkItemList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out WorkItemList

	for _, item := range f.items {
		if item.WorkflowID == workflowID && item.BehaviourIdx == behaviourIdx && item.Phase == phase {
			out = append(out, item)
		}
	}

	return out, nil
}

func (f *fakeItemRepo) Save(ctx context.Context, item *WorkItem) (*WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if item.ID != 0 {
		return item, nil
	}

	for _, existing := range f.items {
		if existing.WorkflowID == item.WorkflowID && existing.BehaviourIdx == item.BehaviourIdx &&
			existing.Phase == item.Phase && existing.ItemKey == item.ItemKey {
			existing.Payload = item.Payload
			existing.UpdatedAt = item.UpdatedAt

			return existing, nil
		}
	}

	item.ID = f.nextID
	f.nextID++
	f.items = append(f.items, item)

	return item, nil
}

func (f *fakeItemRepo) TransferToWorkflow(ctx context.Context, itemIDs []int64, workflowID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, item := range f.items {
		for _, id := range itemIDs {
			if item.ID == id {
				item.WorkflowID = workflowID
				item.BehaviourIdx = 0
				item.Phase = 1
				item.Status = ItemPending
				item.Attempts = 0
				item.LastError = nil
			}
		}
	}

	return nil
}

// scriptedHandler generates fixed keys and replays per-key outcomes in order.
type scriptedHandler struct {
	keys      []string
	outcomes  map[string][]ExecutionStatus
	attempts  map[string]int
	generated int
}

func newScriptedHandler(keys []string, outcomes map[string][]ExecutionStatus) *scriptedHandler {
	return &scriptedHandler{
		keys:     keys,
		outcomes: outcomes,
		attempts: make(map[string]int),
	}
}

func (h *scriptedHandler) GenerateWorkItems(ctx context.Context, w *Workflow, config Config) ([]*WorkItem, error) {
	h.generated++

	items := make([]*WorkItem, len(h.keys))
	for i, key := range h.keys {
		items[i] = NewWorkItem(key, map[string]any{"key": key})
	}

	return items, nil
}

func (h *scriptedHandler) ExecuteOne(ctx context.Context, config Config, item *WorkItem, previous *ExecutionResult) (*ExecutionResult, error) {
	attempt := h.attempts[item.ItemKey]
	h.attempts[item.ItemKey]++

	script := h.outcomes[item.ItemKey]
	if attempt >= len(script) {
		return nil, fmt.Errorf("no scripted outcome for %s attempt %d", item.ItemKey, attempt)
	}

	result := NewExecutionResult(config.Tag(), script[attempt], 1)

	return &result, nil
}

func newBehaviourTestRunner(handler Handler) (*Runner, *fakeWorkflowRepo, *fakeItemRepo, *queue.MemoryQueue) {
	workflows := newFakeWorkflowRepo()
	items := newFakeItemRepo()
	q := queue.NewMemoryQueue(nil)

	handlers := NewHandlerRegistry()
	handlers.Register("batch", handler)
	handlers.Register("plain", handler)
	handlers.Register("saga", handler)

	runner := NewRunner(workflows, items, handlers, q, nil, RunnerConfig{
		MaxRetries:         1,
		RescheduleInterval: 5 * time.Second,
		ForkDelay:          30 * time.Second,
	})

	return runner, workflows, items, q
}

func TestRunner_AllItemsSucceed(t *testing.T) {
	handler := newScriptedHandler([]string{"a", "b"}, map[string][]ExecutionStatus{
		"a": {StatusCompleted},
		"b": {StatusCompleted},
	})

	runner, _, items, q := newBehaviourTestRunner(handler)

	w := NewWorkflow("post-1", "post", []Config{&batchConfig{Size: 10}}, nil, 0)

	require.NoError(t, runner.RunWorkflow(context.Background(), w))

	assert.True(t, w.IsComplete)
	assert.False(t, w.IsFailed)
	assert.Empty(t, q.Jobs())

	ledger, err := items.GetForStep(context.Background(), w.ID, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, ItemDone, ledger.AggregateStatus())
}

func TestRunner_SmallBatchReschedules(t *testing.T) {
	handler := newScriptedHandler([]string{"a", "b"}, map[string][]ExecutionStatus{
		"a": {StatusCompleted},
		"b": {StatusCompleted},
	})

	runner, _, _, q := newBehaviourTestRunner(handler)

	w := NewWorkflow("post-1", "post", []Config{&batchConfig{Size: 1}}, nil, 0)

	require.NoError(t, runner.RunWorkflow(context.Background(), w))

	assert.False(t, w.IsComplete, "one pending item remains")

	jobs := q.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, RescheduleJobName, jobs[0].Name)
	assert.Equal(t, w.ID, jobs[0].Payload["workflow_id"])

	require.NoError(t, runner.ContinueWorkflow(context.Background(), w.ID))
	assert.True(t, w.IsComplete)
}

func TestRunner_GenerationIsIdempotent(t *testing.T) {
	handler := newScriptedHandler([]string{"a", "b"}, map[string][]ExecutionStatus{
		"a": {StatusCompleted},
		"b": {StatusCompleted},
	})

	runner, _, items, _ := newBehaviourTestRunner(handler)

	w := NewWorkflow("post-1", "post", []Config{&batchConfig{Size: 1}}, nil, 0)

	require.NoError(t, runner.RunWorkflow(context.Background(), w))
	require.NoError(t, runner.ContinueWorkflow(context.Background(), w.ID))

	assert.Equal(t, 1, handler.generated, "the ledger is generated once and reused")

	ledger, err := items.GetForStep(context.Background(), w.ID, 0, 1)
	require.NoError(t, err)
	assert.Len(t, ledger, 2, "no duplicate rows after re-running the step")
}

func TestRunner_WaitingBreaksWithoutReschedule(t *testing.T) {
	handler := newScriptedHandler([]string{"a"}, map[string][]ExecutionStatus{
		"a": {StatusWaiting},
	})

	runner, _, _, q := newBehaviourTestRunner(handler)

	w := NewWorkflow("post-1", "post", []Config{&batchConfig{Size: 10}}, nil, 0)

	require.NoError(t, runner.RunWorkflow(context.Background(), w))

	assert.False(t, w.IsComplete)
	assert.False(t, w.IsFailed)
	assert.Empty(t, q.Jobs(), "waiting relies on an external signal, not a reschedule")
}

func TestRunner_FailedStepRetriesThenForks(t *testing.T) {
	handler := newScriptedHandler([]string{"A", "B", "C"}, map[string][]ExecutionStatus{
		"A": {StatusCompleted},
		"B": {StatusFailed},
		"C": {StatusFailed},
	})

	runner, workflows, items, q := newBehaviourTestRunner(handler)

	parent := NewWorkflow("post-7", "post", []Config{&batchConfig{Size: 2}}, map[string]string{"origin": "sync"}, 0)

	// Run 1: A succeeds, B fails; one retry remains, so the step reschedules.
	require.NoError(t, runner.RunWorkflow(context.Background(), parent))

	assert.False(t, parent.IsComplete)
	assert.False(t, parent.IsFailed)
	require.Len(t, q.Jobs(), 1)

	beforeFork, err := items.GetForStep(context.Background(), parent.ID, 0, 1)
	require.NoError(t, err)

	var failedIDs []int64
	for _, item := range beforeFork.Failed() {
		failedIDs = append(failedIDs, item.ID)
	}

	// Run 2: C fails; the retry budget is exhausted and the step forks.
	require.NoError(t, runner.ContinueWorkflow(context.Background(), parent.ID))

	assert.True(t, parent.IsComplete, "the parent treats the fork as progress")
	assert.False(t, parent.IsFailed)

	children := workflows.children(parent.ID)
	require.Len(t, children, 1)

	child := children[0]
	require.NotNil(t, child.RootWorkflowID)
	assert.Equal(t, parent.ID, *child.RootWorkflowID)
	require.Len(t, child.Configs, 1)
	assert.Equal(t, "batch", child.Configs[0].Tag())
	assert.Equal(t, parent.Meta, child.Meta)

	childItems, err := items.GetForStep(context.Background(), child.ID, 0, 1)
	require.NoError(t, err)
	require.Len(t, childItems, 2, "keys B and C moved to the child")

	transferred := map[string]bool{}

	for _, item := range childItems {
		transferred[item.ItemKey] = true
		assert.Equal(t, ItemPending, item.Status)
		assert.Zero(t, item.Attempts)
		assert.Nil(t, item.LastError)
	}

	assert.True(t, transferred["B"])
	assert.True(t, transferred["C"])

	parentItems, err := items.GetForStep(context.Background(), parent.ID, 0, 1)
	require.NoError(t, err)
	assert.Len(t, parentItems, 1, "only the succeeded item stays with the parent")

	result := parent.Results[0]
	require.NotNil(t, result)
	assert.Equal(t, StatusForked, result.Status)
}

func TestRunner_ForkedWorkflowDoesNotForkAgain(t *testing.T) {
	handler := newScriptedHandler([]string{"A"}, map[string][]ExecutionStatus{
		"A": {StatusFailed, StatusFailed},
	})

	runner, workflows, _, _ := newBehaviourTestRunner(handler)

	parent := NewWorkflow("post-1", "post", []Config{&batchConfig{Size: 2}}, nil, 0)
	fork := NewForkedWorkflow(parent, parent.Configs[0])

	require.NoError(t, runner.RunWorkflow(context.Background(), fork))
	require.NoError(t, runner.ContinueWorkflow(context.Background(), fork.ID))

	assert.True(t, fork.IsFailed, "an exhausted fork fails instead of forking again")
	assert.Empty(t, workflows.children(fork.ID))
}

func TestRunner_NonBatchableFailedStepFailsWorkflow(t *testing.T) {
	handler := newScriptedHandler([]string{"A"}, map[string][]ExecutionStatus{
		"A": {StatusFailed, StatusFailed},
	})

	runner, workflows, _, _ := newBehaviourTestRunner(handler)

	w := NewWorkflow("post-1", "post", []Config{&plainConfig{}}, nil, 0)

	require.NoError(t, runner.RunWorkflow(context.Background(), w))
	require.NoError(t, runner.ContinueWorkflow(context.Background(), w.ID))

	assert.True(t, w.IsFailed)
	assert.Empty(t, workflows.children(w.ID))
}

func TestRunner_FanOutSecondaryWorkflows(t *testing.T) {
	handler := newScriptedHandler([]string{"a"}, map[string][]ExecutionStatus{
		"a": {StatusCompleted, StatusCompleted},
	})

	runner, _, _, q := newBehaviourTestRunner(handler)

	first := NewWorkflow("post-1", "post", []Config{&batchConfig{Size: 10}}, nil, 0)
	second := NewWorkflow("post-2", "post", []Config{&batchConfig{Size: 10}}, nil, 0)

	require.NoError(t, runner.Execute(context.Background(), []*Workflow{first, second}))

	assert.True(t, first.IsComplete, "the first workflow runs inline")
	assert.False(t, second.IsComplete)

	jobs := q.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, second.ID, jobs[0].Payload["workflow_id"])
	assert.WithinDuration(t, time.Now().UTC(), jobs[0].RunAt, 2*time.Second, "fan-out uses zero delay")
}
