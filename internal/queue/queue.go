package queue

import (
	"context"
	"sync"
	"time"

	"github.com/AureliaStudio/conveyor/pkg"
	cn "github.com/AureliaStudio/conveyor/pkg/constant"
)

// AsyncQueue is the contract this core needs from a job queue: at-least-once
// dispatch of a named job with a payload, optionally delayed. Implementations
// decide durability and delivery.
type AsyncQueue interface {
	EnqueueAsync(ctx context.Context, name string, payload map[string]any, group string) error
	ScheduleSingle(ctx context.Context, at time.Time, name string, payload map[string]any, group string) error
}

// Handler runs one dequeued job.
type Handler func(ctx context.Context, payload map[string]any) error

// Registry maps job names onto handlers for the consumer side of the queue.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register binds a job name to a handler.
func (r *Registry) Register(name string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[name] = handler
}

// Dispatch runs the handler registered under the job name.
func (r *Registry) Dispatch(ctx context.Context, name string, payload map[string]any) error {
	r.mu.RLock()
	handler, ok := r.handlers[name]
	r.mu.RUnlock()

	if !ok {
		return pkg.ValidateBusinessError(cn.ErrJobNotRegistered, "Job", name)
	}

	return handler(ctx, payload)
}

// Job is one enqueued unit, visible for inspection on the in-memory queue.
type Job struct {
	Name    string
	Payload map[string]any
	Group   string
	RunAt   time.Time
}

// MemoryQueue is an in-process AsyncQueue. It backs tests and single-node
// deployments that have no shared queue; jobs are either recorded for a pump
// loop or dispatched synchronously through a registry.
type MemoryQueue struct {
	mu       sync.Mutex
	jobs     []Job
	registry *Registry
}

// NewMemoryQueue returns an empty in-memory queue. When registry is non-nil,
// Drain dispatches due jobs through it.
func NewMemoryQueue(registry *Registry) *MemoryQueue {
	return &MemoryQueue{
		registry: registry,
	}
}

// EnqueueAsync implements AsyncQueue.
func (q *MemoryQueue) EnqueueAsync(ctx context.Context, name string, payload map[string]any, group string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.jobs = append(q.jobs, Job{Name: name, Payload: payload, Group: group, RunAt: time.Now().UTC()})

	return nil
}

// ScheduleSingle implements AsyncQueue.
func (q *MemoryQueue) ScheduleSingle(ctx context.Context, at time.Time, name string, payload map[string]any, group string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.jobs = append(q.jobs, Job{Name: name, Payload: payload, Group: group, RunAt: at})

	return nil
}

// Jobs returns a snapshot of everything enqueued so far.
func (q *MemoryQueue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Job, len(q.jobs))
	copy(out, q.jobs)

	return out
}

// Drain dispatches every job due at now through the registry and removes it
// from the queue. It returns the number of jobs dispatched and the first
// handler error, leaving later jobs queued.
func (q *MemoryQueue) Drain(ctx context.Context, now time.Time) (int, error) {
	if q.registry == nil {
		return 0, nil
	}

	q.mu.Lock()

	var (
		due     []Job
		pending []Job
	)

	for _, job := range q.jobs {
		if !job.RunAt.After(now) {
			due = append(due, job)
		} else {
			pending = append(pending, job)
		}
	}

	q.jobs = pending
	q.mu.Unlock()

	for i, job := range due {
		if err := q.registry.Dispatch(ctx, job.Name, job.Payload); err != nil {
			q.mu.Lock()
			q.jobs = append(q.jobs, due[i+1:]...)
			q.mu.Unlock()

			return i, err
		}
	}

	return len(due), nil
}
