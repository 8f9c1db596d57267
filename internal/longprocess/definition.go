package longprocess

import (
	"context"
	"sync"

	"github.com/AureliaStudio/conveyor/internal/events"
	"github.com/AureliaStudio/conveyor/internal/payloads"
	"github.com/AureliaStudio/conveyor/pkg"
	cn "github.com/AureliaStudio/conveyor/pkg/constant"
)

// StepInput carries a step's arguments: the payload produced by the previous
// step and, for the step immediately after a suspension, the integration
// event that unblocked it.
type StepInput struct {
	Payload payloads.Payload
	Event   events.IntegrationEvent
}

// StepFunc is a forward step operation.
type StepFunc func(ctx context.Context, p *Process, input StepInput) (*Result, error)

// CompensationFunc undoes one forward step given the failure cause and the
// checkpoint the step recorded.
type CompensationFunc func(ctx context.Context, p *Process, cause string, checkpoint payloads.Payload) (*Result, error)

type stepDef struct {
	name         string
	fn           StepFunc
	async        bool
	compensation string
}

type compensationDef struct {
	name  string
	fn    CompensationFunc
	async bool
}

// Definition declares a process type: its ordered steps, their compensations
// and the async markers. The persisted ProcessSteps value is a snapshot of
// this declaration; the in-memory dispatch table is rebuilt from it and the
// current definition.
type Definition struct {
	name          string
	steps         []stepDef
	compensations map[string]compensationDef
}

// StepOption configures one registered step.
type StepOption func(*Definition, *stepDef)

// AsyncStep marks the step so the runner reschedules before executing it.
func AsyncStep() StepOption {
	return func(_ *Definition, s *stepDef) {
		s.async = true
	}
}

// WithCompensation binds a compensation operation to the step.
func WithCompensation(name string, fn CompensationFunc) StepOption {
	return func(d *Definition, s *stepDef) {
		s.compensation = name
		d.compensations[name] = compensationDef{name: name, fn: fn}
	}
}

// WithAsyncCompensation binds a compensation that must run on a fresh worker.
func WithAsyncCompensation(name string, fn CompensationFunc) StepOption {
	return func(d *Definition, s *stepDef) {
		s.compensation = name
		d.compensations[name] = compensationDef{name: name, fn: fn, async: true}
	}
}

// NewDefinition starts a process type declaration.
func NewDefinition(name string) *Definition {
	return &Definition{
		name:          name,
		compensations: make(map[string]compensationDef),
	}
}

// Name returns the process type discriminator.
func (d *Definition) Name() string {
	return d.name
}

// Step registers a forward step. Steps run in registration order.
func (d *Definition) Step(name string, fn StepFunc, opts ...StepOption) *Definition {
	step := stepDef{name: name, fn: fn}

	for _, opt := range opts {
		opt(d, &step)
	}

	d.steps = append(d.steps, step)

	return d
}

// Snapshot freezes the declared order and compensation map into the value
// persisted with each process instance.
func (d *Definition) Snapshot() ProcessSteps {
	steps := make([]string, len(d.steps))
	compensations := make(map[string]string)

	for i, s := range d.steps {
		steps[i] = s.name
		if s.compensation != "" {
			compensations[s.name] = s.compensation
		}
	}

	return NewProcessSteps(steps, compensations)
}

func (d *Definition) step(name string) (stepDef, error) {
	for _, s := range d.steps {
		if s.name == name {
			return s, nil
		}
	}

	return stepDef{}, pkg.ValidateBusinessError(cn.ErrStepNotRegistered, "Process", name)
}

func (d *Definition) compensation(name string) (compensationDef, error) {
	c, ok := d.compensations[name]
	if !ok {
		return compensationDef{}, pkg.ValidateBusinessError(cn.ErrCompensationNotRegistered, "Process", name)
	}

	return c, nil
}

// Registry holds the known process definitions by name.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewDefinitionRegistry returns an empty definition registry.
func NewDefinitionRegistry() *Registry {
	return &Registry{
		defs: make(map[string]*Definition),
	}
}

// Register adds a definition; the latest registration under a name wins.
func (r *Registry) Register(def *Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.defs[def.Name()] = def
}

// Get looks a definition up by process name.
func (r *Registry) Get(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[name]
	if !ok {
		return nil, pkg.ValidateBusinessError(cn.ErrStepNotRegistered, "Process", name)
	}

	return def, nil
}
