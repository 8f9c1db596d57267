package longprocess

import "context"

// Repository persists process instances.
//
// FindWaitingFor returns only suspended processes awaiting the given event
// type; the runner applies the match criteria.
type Repository interface {
	Save(ctx context.Context, p *Process) (*Process, error)
	Find(ctx context.Context, id string) (*Process, error)
	FindWaitingFor(ctx context.Context, eventName string) ([]*Process, error)
	Delete(ctx context.Context, id string) error
}
