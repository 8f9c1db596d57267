package longprocess

import (
	"context"
	"encoding/json"
	"reflect"

	"github.com/AureliaStudio/conveyor/internal/budget"
	"github.com/AureliaStudio/conveyor/internal/correlation"
	"github.com/AureliaStudio/conveyor/internal/events"
	"github.com/AureliaStudio/conveyor/internal/payloads"
	"github.com/AureliaStudio/conveyor/internal/queue"
	"github.com/AureliaStudio/conveyor/pkg"
)

// ContinuationJobName is the async job that resumes a scheduled process.
const ContinuationJobName = "conveyor_process_continue"

// RunnerConfig tunes the saga engine.
type RunnerConfig struct {
	QueueGroup string
}

// Runner is the saga engine: it executes a process forward step by step,
// suspends it on awaits, resumes it on matching events, and compensates in
// reverse order when a step throws.
type Runner struct {
	repo     Repository
	registry *Registry
	codec    *payloads.Registry
	queue    queue.AsyncQueue
	commands CommandDispatcher
	budget   *budget.Budget
	config   RunnerConfig
}

// NewRunner wires the saga engine.
func NewRunner(repo Repository, registry *Registry, codec *payloads.Registry, q queue.AsyncQueue, commands CommandDispatcher, b *budget.Budget, config RunnerConfig) *Runner {
	if config.QueueGroup == "" {
		config.QueueGroup = "conveyor-outbox"
	}

	return &Runner{
		repo:     repo,
		registry: registry,
		codec:    codec,
		queue:    q,
		commands: commands,
		budget:   b,
		config:   config,
	}
}

// Start persists a fresh process and runs it.
func (r *Runner) Start(ctx context.Context, p *Process) error {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "longprocess.runner.start")
	defer span.End()

	p.MarkRunning()

	if _, err := r.repo.Save(ctx, p); err != nil {
		return err
	}

	return r.run(ctx, p, nil)
}

// ContinueScheduled resumes a process parked by a continuation job. Terminal
// processes are skipped; the correlation context is restored from the process.
func (r *Runner) ContinueScheduled(ctx context.Context, processID string) error {
	logger := pkg.NewLoggerFromContext(ctx)
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "longprocess.runner.continue_scheduled")
	defer span.End()

	p, err := r.repo.Find(ctx, processID)
	if err != nil {
		return err
	}

	if p.IsTerminal() {
		logger.Infof("Skipping continuation of terminal process %s", processID)

		return nil
	}

	corr := correlation.FromContext(ctx)
	corr.Init(p.CorrelationID)

	return r.run(ctx, p, nil)
}

// ResumeOnEvent wakes the first suspended process whose criteria match the
// event. The awaiting step is considered completed; the next step receives
// the event as its second input.
func (r *Runner) ResumeOnEvent(ctx context.Context, event events.IntegrationEvent) error {
	logger := pkg.NewLoggerFromContext(ctx)
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "longprocess.runner.resume_on_event")
	defer span.End()

	waiting, err := r.repo.FindWaitingFor(ctx, event.Name())
	if err != nil {
		return err
	}

	for _, p := range waiting {
		if !criteriaMatch(p.MatchCriteria, event) {
			continue
		}

		logger.Infof("Resuming process %s on event %s", p.ID, event.Name())

		corr := correlation.FromContext(ctx)
		corr.Init(p.CorrelationID)

		p.Wake()

		// The awaiting step has now completed; the active cursor moves on.
		wasCompensating := p.Steps.IsCompensating()
		if wasCompensating {
			p.Steps.AdvanceUndo()
		} else {
			p.Steps.Advance()
		}

		p.SyncStepName()

		if _, err := r.repo.Save(ctx, p); err != nil {
			return err
		}

		if wasCompensating {
			return r.executeCompensation(ctx, p, true)
		}

		return r.executeForward(ctx, p, event)
	}

	return nil
}

// ScheduleContinuation parks the process and enqueues the continuation job.
func (r *Runner) ScheduleContinuation(ctx context.Context, p *Process) error {
	p.MarkScheduled()

	if _, err := r.repo.Save(ctx, p); err != nil {
		return err
	}

	payload := map[string]any{
		"process_id":                      p.ID,
		correlation.EnvelopeCorrelationID: p.CorrelationID,
	}

	return r.queue.EnqueueAsync(ctx, ContinuationJobName, payload, r.config.QueueGroup)
}

func (r *Runner) run(ctx context.Context, p *Process, resumeEvent events.IntegrationEvent) error {
	if p.Steps.IsCompensating() {
		return r.executeCompensation(ctx, p, resumeEvent != nil)
	}

	return r.executeForward(ctx, p, resumeEvent)
}

func (r *Runner) executeForward(ctx context.Context, p *Process, resumeEvent events.IntegrationEvent) error {
	logger := pkg.NewLoggerFromContext(ctx)

	def, err := r.registry.Get(p.ProcessName)
	if err != nil {
		return err
	}

	entered := p.Status == StatusScheduled

	for !p.Steps.IsComplete() {
		stepName, ok := p.Steps.CurrentStep()
		if !ok {
			break
		}

		step, err := def.step(stepName)
		if err != nil {
			return err
		}

		if step.async && !entered {
			return r.ScheduleContinuation(ctx, p)
		}

		entered = false

		payload, err := r.codec.Decode(p.Payload)
		if err != nil {
			return err
		}

		result, err := step.fn(ctx, p, StepInput{Payload: payload, Event: resumeEvent})
		resumeEvent = nil

		if err != nil {
			logger.Errorf("Step %s of process %s failed: %v", stepName, p.ID, err)

			return r.beginCompensation(ctx, p, err.Error())
		}

		if result == nil {
			result = &Result{}
		}

		r.dispatchCommands(ctx, result.Commands)

		if result.Await != nil {
			return r.suspendForEvent(ctx, p, result)
		}

		checkpoint, err := r.codec.Encode(result.Checkpoint)
		if err != nil {
			return err
		}

		p.Steps.RecordCheckpoint(stepName, checkpoint)
		p.Steps.Advance()
		p.SyncStepName()
		p.MarkRunning()

		if p.Payload, err = r.codec.Encode(result.Payload); err != nil {
			return err
		}

		if _, err := r.repo.Save(ctx, p); err != nil {
			return err
		}

		if !p.Steps.IsComplete() && r.budget != nil && r.budget.Exceeded() {
			return r.ScheduleContinuation(ctx, p)
		}
	}

	p.Complete()

	_, err = r.repo.Save(ctx, p)

	return err
}

func (r *Runner) beginCompensation(ctx context.Context, p *Process, cause string) error {
	msg := cause

	p.Steps.BeginUndo(msg)
	p.LastError = &msg
	p.MarkRunning()

	if _, err := r.repo.Save(ctx, p); err != nil {
		return err
	}

	return r.executeCompensation(ctx, p, false)
}

func (r *Runner) executeCompensation(ctx context.Context, p *Process, entered bool) error {
	logger := pkg.NewLoggerFromContext(ctx)

	def, err := r.registry.Get(p.ProcessName)
	if err != nil {
		return err
	}

	entered = entered || p.Status == StatusScheduled

	for p.Steps.IsCompensating() {
		stepName, ok := p.Steps.CurrentUndoStep()
		if !ok {
			break
		}

		compName, mapped := p.Steps.CompensationFor(stepName)
		if !mapped {
			p.Steps.AdvanceUndo()

			if _, err := r.repo.Save(ctx, p); err != nil {
				return err
			}

			continue
		}

		comp, err := def.compensation(compName)
		if err != nil {
			return err
		}

		if comp.async && !entered {
			return r.ScheduleContinuation(ctx, p)
		}

		entered = false

		checkpoint, err := r.codec.Decode(p.Steps.CheckpointFor(stepName))
		if err != nil {
			return err
		}

		result, err := comp.fn(ctx, p, p.Steps.FailureMsg, checkpoint)
		if err != nil {
			logger.Errorf("Compensation %s of process %s failed: %v", compName, p.ID, err)

			p.Fail("Compensation failed: " + err.Error())

			if _, saveErr := r.repo.Save(ctx, p); saveErr != nil {
				return saveErr
			}

			return err
		}

		if result == nil {
			result = &Result{}
		}

		r.dispatchCommands(ctx, result.Commands)

		if result.Await != nil {
			return r.suspendForEvent(ctx, p, result)
		}

		if p.Payload, err = r.codec.Encode(result.Payload); err != nil {
			return err
		}

		p.Steps.AdvanceUndo()

		if _, err := r.repo.Save(ctx, p); err != nil {
			return err
		}

		if p.Steps.IsCompensating() && r.budget != nil && r.budget.Exceeded() {
			return r.ScheduleContinuation(ctx, p)
		}
	}

	p.Steps.FinishUndo()
	p.Fail(p.Steps.FailureMsg)

	_, err = r.repo.Save(ctx, p)

	return err
}

func (r *Runner) suspendForEvent(ctx context.Context, p *Process, result *Result) error {
	payload, err := r.codec.Encode(result.Payload)
	if err != nil {
		return err
	}

	p.Suspend(result.Await, payload)

	_, err = r.repo.Save(ctx, p)

	return err
}

func (r *Runner) dispatchCommands(ctx context.Context, commands []any) {
	logger := pkg.NewLoggerFromContext(ctx)

	for _, command := range commands {
		if err := r.commands.Dispatch(ctx, command); err != nil {
			logger.Errorf("Error dispatching process command %T: %v", command, err)
		}
	}
}

// criteriaMatch applies strict per-field equality of the criteria against the
// event payload. Values are normalized through JSON so numeric types loaded
// from storage compare against in-memory ones.
func criteriaMatch(criteria map[string]any, event events.IntegrationEvent) bool {
	if len(criteria) == 0 {
		return true
	}

	payload := events.ScalarizeMap(event.Payload())

	for field, want := range criteria {
		got, ok := payload[field]
		if !ok {
			return false
		}

		if !looseEqual(want, got) {
			return false
		}
	}

	return true
}

func looseEqual(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}

	rawA, errA := json.Marshal(a)
	rawB, errB := json.Marshal(b)

	if errA != nil || errB != nil {
		return false
	}

	return string(rawA) == string(rawB)
}
