package longprocess

import (
	"time"

	"github.com/AureliaStudio/conveyor/internal/payloads"
	"github.com/AureliaStudio/conveyor/pkg"
)

// Status is the lifecycle state of a long process.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusScheduled Status = "SCHEDULED"
	StatusSuspended Status = "SUSPENDED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Process is a persisted long-running workflow instance. The runner mutates it
// in memory; the repository persists it. A process is single-threaded with
// respect to itself.
type Process struct {
	ID            string
	ProcessName   string
	BusinessData  map[string]any
	Steps         ProcessSteps
	StepName      string
	Status        Status
	WaitingFor    *string
	MatchCriteria map[string]any
	Payload       payloads.Envelope
	CorrelationID string
	LastError     *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	BlogID        int64
}

// NewProcess instantiates a process of the given definition, freezing its step
// schema. The correlation id ties every event the process emits back to the
// operation that started it.
func NewProcess(def *Definition, businessData map[string]any, correlationID string, blogID int64) *Process {
	now := time.Now().UTC()

	p := &Process{
		ID:            pkg.GenerateUUIDv4().String(),
		ProcessName:   def.Name(),
		BusinessData:  businessData,
		Steps:         def.Snapshot(),
		Status:        StatusPending,
		CorrelationID: correlationID,
		CreatedAt:     now,
		UpdatedAt:     now,
		BlogID:        blogID,
	}

	p.SyncStepName()

	return p
}

// IsTerminal reports whether the process reached a terminal status.
func (p *Process) IsTerminal() bool {
	return p.Status.IsTerminal()
}

// SyncStepName refreshes the denormalized current step name.
func (p *Process) SyncStepName() {
	if step, ok := p.Steps.CurrentStep(); ok {
		p.StepName = step
		return
	}

	p.StepName = ""
}

// Suspend parks the process until the awaited event arrives.
func (p *Process) Suspend(await *AwaitEvent, payload payloads.Envelope) {
	waitingFor := await.EventName

	p.Status = StatusSuspended
	p.WaitingFor = &waitingFor
	p.MatchCriteria = await.MatchCriteria
	p.Payload = payload
	p.UpdatedAt = time.Now().UTC()
}

// Wake clears the suspension fields after the awaited event arrived.
func (p *Process) Wake() {
	p.Status = StatusRunning
	p.WaitingFor = nil
	p.MatchCriteria = nil
	p.UpdatedAt = time.Now().UTC()
}

// MarkScheduled parks the process for a continuation job.
func (p *Process) MarkScheduled() {
	p.Status = StatusScheduled
	p.UpdatedAt = time.Now().UTC()
}

// MarkRunning flags the process as actively executing.
func (p *Process) MarkRunning() {
	p.Status = StatusRunning
	p.UpdatedAt = time.Now().UTC()
}

// Complete finishes the process.
func (p *Process) Complete() {
	p.Status = StatusCompleted
	p.WaitingFor = nil
	p.MatchCriteria = nil
	p.UpdatedAt = time.Now().UTC()
}

// Fail terminates the process with the given message.
func (p *Process) Fail(msg string) {
	p.Status = StatusFailed
	p.LastError = &msg
	p.WaitingFor = nil
	p.MatchCriteria = nil
	p.UpdatedAt = time.Now().UTC()
}
