package bus

import (
	"context"
	"sync"

	"github.com/AureliaStudio/conveyor/pkg"
	cn "github.com/AureliaStudio/conveyor/pkg/constant"
)

// Command is a request to change state, dispatched by name.
type Command interface {
	CommandName() string
}

// Transactional is the opt-in marker: commands implementing it run inside a
// database transaction that wraps the handler and the event publishing.
type Transactional interface {
	Transactional()
}

// Parameterized exposes a command's parameters for the audit row. The values
// are redacted before persistence.
type Parameterized interface {
	Parameters() map[string]any
}

// HandlerFunc handles one command.
type HandlerFunc func(ctx context.Context, command Command) (any, error)

// Middleware wraps command handling; middlewares run outside-in in the order
// they were added.
type Middleware interface {
	Handle(ctx context.Context, command Command, next HandlerFunc) (any, error)
}

// CommandBus resolves a handler from the command name and runs it through the
// middleware chain.
type CommandBus struct {
	mu          sync.RWMutex
	handlers    map[string]HandlerFunc
	middlewares []Middleware
}

// NewCommandBus returns a bus with the given middleware chain, outermost first.
func NewCommandBus(middlewares ...Middleware) *CommandBus {
	return &CommandBus{
		handlers:    make(map[string]HandlerFunc),
		middlewares: middlewares,
	}
}

// Register binds a command name to its handler.
func (b *CommandBus) Register(name string, handler HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[name] = handler
}

// Handle runs the command through the middleware chain down to its handler.
func (b *CommandBus) Handle(ctx context.Context, command Command) (any, error) {
	b.mu.RLock()
	handler, ok := b.handlers[command.CommandName()]
	b.mu.RUnlock()

	if !ok {
		return nil, pkg.ValidateBusinessError(cn.ErrHandlerNotFound, "Command", command.CommandName())
	}

	chain := handler
	for i := len(b.middlewares) - 1; i >= 0; i-- {
		middleware := b.middlewares[i]
		next := chain

		chain = func(ctx context.Context, command Command) (any, error) {
			return middleware.Handle(ctx, command, next)
		}
	}

	return chain(ctx, command)
}

// Dispatch adapts the bus to fire-and-forget callers that hold a command as
// plain any, such as the saga runner's side-effect commands.
func (b *CommandBus) Dispatch(ctx context.Context, command any) error {
	cmd, ok := command.(Command)
	if !ok {
		return pkg.ValidateBusinessError(cn.ErrHandlerNotFound, "Command", "unknown")
	}

	_, err := b.Handle(ctx, cmd)

	return err
}

// QueryBus resolves read-side handlers. Queries bypass the middleware chain.
type QueryBus struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewQueryBus returns an empty query bus.
func NewQueryBus() *QueryBus {
	return &QueryBus{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register binds a query name to its handler.
func (b *QueryBus) Register(name string, handler HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[name] = handler
}

// Handle runs the query handler directly.
func (b *QueryBus) Handle(ctx context.Context, query Command) (any, error) {
	b.mu.RLock()
	handler, ok := b.handlers[query.CommandName()]
	b.mu.RUnlock()

	if !ok {
		return nil, pkg.ValidateBusinessError(cn.ErrHandlerNotFound, "Query", query.CommandName())
	}

	return handler(ctx, query)
}
