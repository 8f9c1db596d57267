package behaviour

import (
	"context"
	"sync"
	"time"

	"github.com/AureliaStudio/conveyor/internal/budget"
	"github.com/AureliaStudio/conveyor/internal/queue"
	"github.com/AureliaStudio/conveyor/pkg"
	cn "github.com/AureliaStudio/conveyor/pkg/constant"
)

// RescheduleJobName is the async job that continues a parked workflow.
const RescheduleJobName = "conveyor_workflow_continue"

// HandlerRegistry maps behaviour config tags onto their handlers.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewHandlerRegistry returns an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]Handler),
	}
}

// Register binds a config tag to its handler.
func (r *HandlerRegistry) Register(tag string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[tag] = handler
}

// Get looks the handler up for a config.
func (r *HandlerRegistry) Get(config Config) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[config.Tag()]
	if !ok {
		return nil, pkg.ValidateBusinessError(cn.ErrHandlerNotFound, "BehaviourWorkflow", config.Tag())
	}

	return handler, nil
}

// RunnerConfig tunes the workflow engine.
type RunnerConfig struct {
	MaxRetries         int
	RescheduleInterval time.Duration
	ForkDelay          time.Duration
	QueueGroup         string
}

// Runner drives behaviour workflows over the work-item ledger: it generates
// items deterministically, executes them in chunks, advances the cursor per
// the status taxonomy, retries failed steps within budget and forks exhausted
// failures into child workflows.
type Runner struct {
	workflows WorkflowRepository
	items     WorkItemRepository
	handlers  *HandlerRegistry
	queue     queue.AsyncQueue
	budget    *budget.Budget
	config    RunnerConfig
}

// NewRunner wires the workflow engine.
func NewRunner(workflows WorkflowRepository, items WorkItemRepository, handlers *HandlerRegistry, q queue.AsyncQueue, b *budget.Budget, config RunnerConfig) *Runner {
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}

	if config.RescheduleInterval == 0 {
		config.RescheduleInterval = 5 * time.Second
	}

	if config.ForkDelay == 0 {
		config.ForkDelay = 30 * time.Second
	}

	if config.QueueGroup == "" {
		config.QueueGroup = "conveyor-outbox"
	}

	return &Runner{
		workflows: workflows,
		items:     items,
		handlers:  handlers,
		queue:     q,
		budget:    b,
		config:    config,
	}
}

// Execute runs the first workflow inline and fans the rest out as immediate
// continuation jobs.
func (r *Runner) Execute(ctx context.Context, workflows []*Workflow) error {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "behaviour.runner.execute")
	defer span.End()

	for i, w := range workflows {
		if i == 0 {
			continue
		}

		if _, err := r.workflows.Save(ctx, w); err != nil {
			return err
		}

		payload := map[string]any{"workflow_id": w.ID}

		if err := r.queue.EnqueueAsync(ctx, RescheduleJobName, payload, r.config.QueueGroup); err != nil {
			return err
		}
	}

	if len(workflows) == 0 {
		return nil
	}

	return r.RunWorkflow(ctx, workflows[0])
}

// ContinueWorkflow resumes a workflow parked by a continuation job.
func (r *Runner) ContinueWorkflow(ctx context.Context, workflowID string) error {
	w, err := r.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return err
	}

	if w.IsTerminal() {
		return nil
	}

	return r.RunWorkflow(ctx, w)
}

// RunWorkflow makes as much progress as the budget allows on one workflow.
func (r *Runner) RunWorkflow(ctx context.Context, w *Workflow) error {
	logger := pkg.NewLoggerFromContext(ctx)
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "behaviour.runner.run_workflow")
	defer span.End()

	// The workflow persists before any ledger row references it.
	if _, err := r.workflows.Save(ctx, w); err != nil {
		return err
	}

	needsReschedule := false

	for !w.IsTerminal() {
		config, ok := w.GetCurrent()
		if !ok {
			w.IsComplete = true
			break
		}

		handler, err := r.handlers.Get(config)
		if err != nil {
			return err
		}

		previous := w.GetCurrentResult()

		items, err := r.ensureWorkItems(ctx, w, config, handler)
		if err != nil {
			return err
		}

		result, err := r.executeWithLedger(ctx, w, config, handler, previous, items)
		if err != nil {
			return err
		}

		merged := w.MaybeAdvance(&result)

		switch merged.Status {
		case StatusWaiting:
			// An external signal resumes the workflow; nothing to reschedule.
		case StatusBatched:
			needsReschedule = true
		case StatusFailed:
			if r.needsRescheduling(merged) {
				needsReschedule = true
				break
			}

			forked, err := r.tryFork(ctx, w, config, merged)
			if err != nil {
				return err
			}

			if forked {
				continue
			}

			logger.Errorf("Workflow %s step %d failed permanently", w.ID, w.CurrentIdx)

			w.IsFailed = true
		default:
			continue
		}

		break
	}

	if _, err := r.workflows.Save(ctx, w); err != nil {
		return err
	}

	if needsReschedule {
		return r.Reschedule(ctx, w, r.config.RescheduleInterval)
	}

	return nil
}

// Reschedule enqueues a delayed continuation job for the workflow.
func (r *Runner) Reschedule(ctx context.Context, w *Workflow, interval time.Duration) error {
	payload := map[string]any{"workflow_id": w.ID}

	at := time.Now().UTC().Add(interval)

	return r.queue.ScheduleSingle(ctx, at, RescheduleJobName, payload, r.config.QueueGroup)
}

// ensureWorkItems loads the ledger rows of the current step, generating them
// on first touch. Generation is deterministic, so a crash between generate and
// execute converges on the same ledger.
func (r *Runner) ensureWorkItems(ctx context.Context, w *Workflow, config Config, handler Handler) (WorkItemList, error) {
	items, err := r.items.GetForStep(ctx, w.ID, w.CurrentIdx, w.CurrentPhase)
	if err != nil {
		return nil, err
	}

	if len(items) > 0 {
		return items, nil
	}

	generated, err := handler.GenerateWorkItems(ctx, w, config)
	if err != nil {
		return nil, err
	}

	for _, item := range generated {
		item.WorkflowID = w.ID
		item.BehaviourIdx = w.CurrentIdx
		item.Phase = w.CurrentPhase
		item.BlogID = w.BlogID

		if item.Status == "" {
			item.Status = ItemPending
		}

		if _, err := r.items.Save(ctx, item); err != nil {
			return nil, err
		}
	}

	return r.items.GetForStep(ctx, w.ID, w.CurrentIdx, w.CurrentPhase)
}

// executeWithLedger processes one chunk of pending items and resolves the step
// result from the reloaded ledger.
func (r *Runner) executeWithLedger(ctx context.Context, w *Workflow, config Config, handler Handler, previous *ExecutionResult, items WorkItemList) (ExecutionResult, error) {
	batchSize := 1
	if batchable, ok := config.(Batchable); ok {
		batchSize = batchable.DefaultBatchSize()
	}

	var (
		chunkSuccess []string
		chunkError   = make(map[string]string)
	)

	finish := func(status ExecutionStatus) ExecutionResult {
		result := NewExecutionResult(config.Tag(), status, w.CurrentPhase)
		result.BatchSuccess = chunkSuccess
		result.BatchError = chunkError

		return result
	}

	pending := items.Pending()

	for _, item := range pending.Take(batchSize) {
		itemResult, execErr := handler.ExecuteOne(ctx, config, item, previous)

		item.ApplyResult(itemResult, execErr)

		if _, err := r.items.Save(ctx, item); err != nil {
			return ExecutionResult{}, err
		}

		switch item.Status {
		case ItemFailed:
			if item.LastError != nil {
				chunkError[item.ItemKey] = *item.LastError
			} else {
				chunkError[item.ItemKey] = "execution failed"
			}

			return finish(StatusFailed), nil
		case ItemWaiting:
			chunkSuccess = append(chunkSuccess, item.ItemKey)

			return finish(StatusWaiting), nil
		default:
			chunkSuccess = append(chunkSuccess, item.ItemKey)
		}

		if r.budget != nil && r.budget.Exceeded() {
			return finish(StatusBatched), nil
		}
	}

	reloaded, err := r.items.GetForStep(ctx, w.ID, w.CurrentIdx, w.CurrentPhase)
	if err != nil {
		return ExecutionResult{}, err
	}

	switch reloaded.AggregateStatus() {
	case ItemPending:
		return finish(StatusBatched), nil
	case ItemWaiting:
		return finish(StatusWaiting), nil
	case ItemFailed:
		return finish(StatusFailed), nil
	default:
		return finish(StatusCompleted), nil
	}
}

// needsRescheduling reports whether the failed step still has retry budget or
// the worker merely ran out of resources.
func (r *Runner) needsRescheduling(result *ExecutionResult) bool {
	if r.budget != nil && r.budget.Exceeded() {
		return true
	}

	return result.Status == StatusFailed && result.FailureCount() < r.config.MaxRetries
}

// tryFork spins the step's failed items off into a child workflow. Only a
// batchable step of a non-forked workflow forks; everything else stays on the
// generic retry path.
func (r *Runner) tryFork(ctx context.Context, w *Workflow, config Config, merged *ExecutionResult) (bool, error) {
	logger := pkg.NewLoggerFromContext(ctx)

	if _, batchable := config.(Batchable); !batchable || w.IsFork() {
		return false, nil
	}

	items, err := r.items.GetForStep(ctx, w.ID, w.CurrentIdx, w.CurrentPhase)
	if err != nil {
		return false, err
	}

	failed := items.Failed()
	if len(failed) == 0 {
		return false, nil
	}

	child := NewForkedWorkflow(w, config)

	if _, err := r.workflows.Save(ctx, child); err != nil {
		return false, err
	}

	ids := make([]int64, len(failed))
	for i, item := range failed {
		ids[i] = item.ID
	}

	// The same ledger identities move to the child; nothing is duplicated.
	if err := r.items.TransferToWorkflow(ctx, ids, child.ID); err != nil {
		return false, err
	}

	if err := r.Reschedule(ctx, child, r.config.ForkDelay); err != nil {
		return false, err
	}

	logger.Infof("Forked %d failed item(s) of workflow %s into %s", len(failed), w.ID, child.ID)

	forkedResult := NewExecutionResult(config.Tag(), StatusForked, w.CurrentPhase)
	w.MaybeAdvance(&forkedResult)

	return true, nil
}
