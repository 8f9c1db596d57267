package behaviour

import "context"

// WorkflowRepository persists behaviour workflows.
type WorkflowRepository interface {
	GetByID(ctx context.Context, id string) (*Workflow, error)
	GetByRefID(ctx context.Context, refID, refType string) ([]*Workflow, error)
	Save(ctx context.Context, w *Workflow) (*Workflow, error)
}

// WorkItemRepository persists the work-item ledger. Save is idempotent on the
// unique key (workflow, behaviour index, phase, item key): a generated item
// matching an existing row updates it in place.
type WorkItemRepository interface {
	GetByID(ctx context.Context, id int64) (*WorkItem, error)
	FindByUnique(ctx context.Context, workflowID string, behaviourIdx, phase int, itemKey string) (*WorkItem, error)
	GetForStep(ctx context.Context, workflowID string, behaviourIdx, phase int) (WorkItemList, error)
	Save(ctx context.Context, item *WorkItem) (*WorkItem, error)
	TransferToWorkflow(ctx context.Context, itemIDs []int64, workflowID string) error
}

// Handler executes one behaviour config over the ledger. GenerateWorkItems
// must be deterministic: running it twice for the same step yields the same
// keys.
type Handler interface {
	GenerateWorkItems(ctx context.Context, w *Workflow, config Config) ([]*WorkItem, error)
	ExecuteOne(ctx context.Context, config Config, item *WorkItem, previous *ExecutionResult) (*ExecutionResult, error)
}
