package behaviour

import "time"

// WorkItemStatus is the ledger state of one unit of batched work.
type WorkItemStatus string

const (
	ItemPending WorkItemStatus = "PENDING"
	ItemWaiting WorkItemStatus = "WAITING"
	ItemFailed  WorkItemStatus = "FAILED"
	ItemDone    WorkItemStatus = "DONE"
	ItemSkipped WorkItemStatus = "SKIPPED"
)

// WorkItem is a ledger row: one unit of work within a workflow step, unique by
// (workflow, behaviour index, phase, item key). On fork the same row identity
// transfers to the child workflow.
type WorkItem struct {
	ID           int64
	WorkflowID   string
	BehaviourIdx int
	Phase        int
	ItemKey      string
	Status       WorkItemStatus
	Attempts     int
	LastError    *string
	Payload      map[string]any
	BlogID       int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewWorkItem builds a pending ledger row for the given key.
func NewWorkItem(itemKey string, payload map[string]any) *WorkItem {
	now := time.Now().UTC()

	return &WorkItem{
		ItemKey:   itemKey,
		Status:    ItemPending,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ApplyResult maps a behaviour execution outcome onto the ledger row.
func (i *WorkItem) ApplyResult(result *ExecutionResult, execErr error) {
	i.Attempts++
	i.UpdatedAt = time.Now().UTC()

	if execErr != nil {
		msg := execErr.Error()
		i.Status = ItemFailed
		i.LastError = &msg

		return
	}

	i.LastError = nil

	switch result.Status {
	case StatusCompleted:
		i.Status = ItemDone
	case StatusWaiting:
		i.Status = ItemWaiting
	case StatusSkipped, StatusCancelled, StatusPreempted:
		i.Status = ItemSkipped
	case StatusFailed:
		i.Status = ItemFailed
	default:
		if result.Success {
			i.Status = ItemDone
		} else {
			i.Status = ItemFailed
		}
	}
}

// WorkItemList is a queryable view over a step's ledger rows.
type WorkItemList []*WorkItem

// Pending returns the rows still awaiting execution.
func (l WorkItemList) Pending() WorkItemList {
	return l.withStatus(ItemPending)
}

// Waiting returns the rows parked on an external signal.
func (l WorkItemList) Waiting() WorkItemList {
	return l.withStatus(ItemWaiting)
}

// Failed returns the rows whose execution failed.
func (l WorkItemList) Failed() WorkItemList {
	return l.withStatus(ItemFailed)
}

// Done returns the rows that finished.
func (l WorkItemList) Done() WorkItemList {
	return l.withStatus(ItemDone)
}

func (l WorkItemList) withStatus(status WorkItemStatus) WorkItemList {
	var out WorkItemList

	for _, item := range l {
		if item.Status == status {
			out = append(out, item)
		}
	}

	return out
}

// Take returns the first n rows.
func (l WorkItemList) Take(n int) WorkItemList {
	if n < 0 {
		n = 0
	}

	if n > len(l) {
		n = len(l)
	}

	return l[:n]
}

// AggregateStatus folds the list into one status with the priority
// pending > waiting > failed > done.
func (l WorkItemList) AggregateStatus() WorkItemStatus {
	if len(l.Pending()) > 0 {
		return ItemPending
	}

	if len(l.Waiting()) > 0 {
		return ItemWaiting
	}

	if len(l.Failed()) > 0 {
		return ItemFailed
	}

	return ItemDone
}
