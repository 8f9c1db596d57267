package behaviour

import (
	"time"

	"github.com/AureliaStudio/conveyor/pkg"
)

// Config is a polymorphic behaviour configuration. The tag is its stable type
// discriminator used by the codec and the handler registry.
type Config interface {
	Tag() string
}

// Batchable marks a behaviour whose work is spread over ledger items and
// processed in chunks.
type Batchable interface {
	DefaultBatchSize() int
}

// Saga marks a multi-phase behaviour; the workflow tracks a 1-based phase
// cursor inside it.
type Saga interface {
	NoPhases() int
}

// Workflow is the aggregate iterating a list of behaviour configs with a
// cursor and per-step execution results. A fork is a child workflow owning its
// parent's failed items; it carries exactly one behaviour config.
type Workflow struct {
	ID             string
	RefID          string
	RefType        string
	RootWorkflowID *string
	Configs        []Config
	Results        []*ExecutionResult
	CurrentIdx     int
	CurrentPhase   int
	IsComplete     bool
	IsFailed       bool
	Meta           map[string]string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	BlogID         int64
}

// NewWorkflow builds a workflow about the given business object.
func NewWorkflow(refID, refType string, configs []Config, meta map[string]string, blogID int64) *Workflow {
	now := time.Now().UTC()

	return &Workflow{
		ID:           pkg.GenerateUUIDv4().String(),
		RefID:        refID,
		RefType:      refType,
		Configs:      configs,
		Results:      make([]*ExecutionResult, len(configs)),
		CurrentIdx:   0,
		CurrentPhase: 1,
		Meta:         meta,
		CreatedAt:    now,
		UpdatedAt:    now,
		BlogID:       blogID,
	}
}

// NewForkedWorkflow builds the child that takes over a parent step's failed
// items. It shares the parent's business reference and meta and holds exactly
// the one config being retried.
func NewForkedWorkflow(parent *Workflow, config Config) *Workflow {
	child := NewWorkflow(parent.RefID, parent.RefType, []Config{config}, parent.Meta, parent.BlogID)
	rootID := parent.ID
	child.RootWorkflowID = &rootID

	return child
}

// IsFork reports whether this workflow was forked off another one.
func (w *Workflow) IsFork() bool {
	return w.RootWorkflowID != nil
}

// IsTerminal reports whether the workflow finished, successfully or not.
func (w *Workflow) IsTerminal() bool {
	return w.IsComplete || w.IsFailed
}

// GetCurrent returns the config under the cursor.
func (w *Workflow) GetCurrent() (Config, bool) {
	if w.CurrentIdx < 0 || w.CurrentIdx >= len(w.Configs) {
		return nil, false
	}

	return w.Configs[w.CurrentIdx], true
}

// GetCurrentResult returns the stored result of the current step, if any.
func (w *Workflow) GetCurrentResult() *ExecutionResult {
	if w.CurrentIdx < 0 || w.CurrentIdx >= len(w.Results) {
		return nil
	}

	return w.Results[w.CurrentIdx]
}

// MaybeAdvance stores the step result, following up any previous result so
// history is preserved, and moves the cursor according to the status
// taxonomy. It returns the stored (possibly merged) result.
func (w *Workflow) MaybeAdvance(result *ExecutionResult) *ExecutionResult {
	merged := *result

	if previous := w.GetCurrentResult(); previous != nil {
		merged = previous.FollowUp(merged)
	}

	if w.CurrentIdx >= 0 && w.CurrentIdx < len(w.Results) {
		w.Results[w.CurrentIdx] = &merged
	}

	w.UpdatedAt = time.Now().UTC()

	if merged.Status == StatusFailed {
		return &merged
	}

	config, ok := w.GetCurrent()
	if !ok {
		return &merged
	}

	if saga, isSaga := config.(Saga); isSaga && saga.NoPhases() >= 1 {
		switch merged.Status {
		case StatusCancelled:
			w.completeSaga()
		case StatusBatched, StatusWaiting:
			// Cursor holds.
		default:
			w.CurrentPhase++
			if w.CurrentPhase > saga.NoPhases() {
				w.completeSaga()
			}
		}
	} else if merged.Status != StatusBatched && merged.Status != StatusWaiting {
		w.CurrentIdx++
		w.CurrentPhase = 1
	}

	if w.CurrentIdx == len(w.Configs) {
		w.IsComplete = true
	}

	return &merged
}

func (w *Workflow) completeSaga() {
	w.CurrentIdx++
	w.CurrentPhase = 1
}
