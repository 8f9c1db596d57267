package longprocess

import "github.com/AureliaStudio/conveyor/internal/payloads"

// ProcessSteps is the frozen step schema of one process instance plus its
// checkpoint ledger and cursors. Steps and Compensations are snapshotted when
// the process starts and never updated afterwards; a code change requires
// declaring a new process type.
type ProcessSteps struct {
	Steps         []string                     `json:"steps"`
	Compensations map[string]string            `json:"compensations"`
	Checkpoints   map[string]payloads.Envelope `json:"checkpoints"`
	StepIndex     int                          `json:"stepIndex"`
	UndoIndex     int                          `json:"undoIndex"`
	FailureMsg    string                       `json:"failureMsg"`
}

// NewProcessSteps freezes a step order and compensation map into a fresh value.
func NewProcessSteps(steps []string, compensations map[string]string) ProcessSteps {
	frozen := make([]string, len(steps))
	copy(frozen, steps)

	comps := make(map[string]string, len(compensations))
	for k, v := range compensations {
		comps[k] = v
	}

	return ProcessSteps{
		Steps:         frozen,
		Compensations: comps,
		Checkpoints:   make(map[string]payloads.Envelope),
		StepIndex:     0,
		UndoIndex:     -1,
	}
}

// IsCompensating reports whether the compensation cursor is active.
func (s *ProcessSteps) IsCompensating() bool {
	return s.UndoIndex >= 0
}

// IsComplete reports whether the forward cursor passed the last step.
func (s *ProcessSteps) IsComplete() bool {
	return s.StepIndex >= len(s.Steps)
}

// CurrentStep returns the step under the forward cursor.
func (s *ProcessSteps) CurrentStep() (string, bool) {
	if s.StepIndex < 0 || s.StepIndex >= len(s.Steps) {
		return "", false
	}

	return s.Steps[s.StepIndex], true
}

// CurrentUndoStep returns the step under the compensation cursor.
func (s *ProcessSteps) CurrentUndoStep() (string, bool) {
	if s.UndoIndex < 0 || s.UndoIndex >= len(s.Steps) {
		return "", false
	}

	return s.Steps[s.UndoIndex], true
}

// CompensationFor returns the compensation mapped to a forward step.
func (s *ProcessSteps) CompensationFor(step string) (string, bool) {
	name, ok := s.Compensations[step]
	return name, ok
}

// CheckpointFor returns the checkpoint persisted for a forward step.
func (s *ProcessSteps) CheckpointFor(step string) payloads.Envelope {
	return s.Checkpoints[step]
}

// FailedStep returns the step that threw, which is the one under the forward
// cursor while compensating.
func (s *ProcessSteps) FailedStep() (string, bool) {
	if !s.IsCompensating() {
		return "", false
	}

	if s.StepIndex < 0 || s.StepIndex >= len(s.Steps) {
		return "", false
	}

	return s.Steps[s.StepIndex], true
}

// TotalSteps returns the frozen step count.
func (s *ProcessSteps) TotalSteps() int {
	return len(s.Steps)
}

// CompletedCount returns how many forward steps have finished.
func (s *ProcessSteps) CompletedCount() int {
	return s.StepIndex
}

// Advance moves the forward cursor past the current step.
func (s *ProcessSteps) Advance() {
	s.StepIndex++
}

// RecordCheckpoint persists the opaque datum a compensation will later receive.
func (s *ProcessSteps) RecordCheckpoint(step string, checkpoint payloads.Envelope) {
	if checkpoint.IsZero() {
		return
	}

	if s.Checkpoints == nil {
		s.Checkpoints = make(map[string]payloads.Envelope)
	}

	s.Checkpoints[step] = checkpoint
}

// BeginUndo activates the compensation cursor at the last completed step and
// stores the failure message.
func (s *ProcessSteps) BeginUndo(msg string) {
	s.UndoIndex = s.StepIndex - 1
	s.FailureMsg = msg
}

// AdvanceUndo moves the compensation cursor one step back.
func (s *ProcessSteps) AdvanceUndo() {
	s.UndoIndex--
}

// FinishUndo deactivates the compensation cursor.
func (s *ProcessSteps) FinishUndo() {
	s.UndoIndex = -1
}
