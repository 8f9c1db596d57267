package bus

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/AureliaStudio/conveyor/internal/audit"
	"github.com/AureliaStudio/conveyor/internal/correlation"
	"github.com/AureliaStudio/conveyor/internal/events"
	"github.com/AureliaStudio/conveyor/pkg"
	"github.com/AureliaStudio/conveyor/pkg/dbtx"
	"github.com/AureliaStudio/conveyor/pkg/mruntime"
)

// AuditMiddleware is the outermost middleware: it mints the command id before
// anything touches the correlation context, writes the preflight row, and
// finalizes the outcome even when the transaction below rolled back.
type AuditMiddleware struct {
	repo        audit.Repository
	uow         *events.UnitOfWork
	source      audit.Source
	environment string
}

// NewAuditMiddleware returns the audit middleware.
func NewAuditMiddleware(repo audit.Repository, uow *events.UnitOfWork, source audit.Source, environment string) *AuditMiddleware {
	return &AuditMiddleware{
		repo:        repo,
		uow:         uow,
		source:      source,
		environment: environment,
	}
}

// Handle implements Middleware.
func (m *AuditMiddleware) Handle(ctx context.Context, command Command, next HandlerFunc) (any, error) {
	logger := pkg.NewLoggerFromContext(ctx)

	corr := correlation.FromContext(ctx)

	commandID := pkg.GenerateUUIDv4().String()
	corr.SetCommandID(commandID)

	record := &audit.CommandAudit{
		CommandID:     commandID,
		CorrelationID: corr.Get(),
		CommandName:   command.CommandName(),
		Status:        audit.StatusInProgress,
		Source:        m.source,
		StartedAt:     time.Now().UTC(),
		Environment:   m.environment,
		BlogID:        pkg.BlogIDFromContext(ctx),
	}

	if parameterized, ok := command.(Parameterized); ok {
		record.Parameters = parameterized.Parameters()
	}

	if _, err := m.repo.CreatePreflight(ctx, record); err != nil {
		logger.Errorf("Error writing audit preflight for %s: %v", command.CommandName(), err)
	}

	result, err := next(ctx, command)

	finishedAt := time.Now().UTC()
	durationMs := finishedAt.Sub(record.StartedAt).Milliseconds()
	peakMemory := int64(mruntime.MemoryUsageBytes())

	record.FinishedAt = &finishedAt
	record.DurationMs = &durationMs
	record.PeakMemoryBytes = &peakMemory

	for _, event := range m.uow.Published() {
		record.Events = append(record.Events, event.Name())
	}

	if err != nil {
		record.Status = audit.StatusError

		errType := fmt.Sprintf("%T", err)
		errMsg := err.Error()
		record.ErrorType = &errType
		record.ErrorMessage = &errMsg
	} else {
		record.Status = audit.StatusSuccess
	}

	if finalizeErr := m.repo.Finalize(ctx, record); finalizeErr != nil {
		logger.Errorf("Error finalizing audit for %s: %v", command.CommandName(), finalizeErr)
	}

	return result, err
}

// CorrelationMiddleware guarantees the operation has a correlation id and
// clears the context on the way out so no state leaks into the next command.
type CorrelationMiddleware struct{}

// NewCorrelationMiddleware returns the correlation middleware.
func NewCorrelationMiddleware() *CorrelationMiddleware {
	return &CorrelationMiddleware{}
}

// Handle implements Middleware.
func (m *CorrelationMiddleware) Handle(ctx context.Context, command Command, next HandlerFunc) (any, error) {
	corr := correlation.FromContext(ctx)
	corr.Get()

	defer corr.Reset()

	return next(correlation.ContextWith(ctx, corr), command)
}

// TransactionMiddleware wraps opted-in commands in a database transaction:
// commit on success, rollback and rethrow on any error. Non-transactional
// commands pass through untouched.
type TransactionMiddleware struct {
	db *sql.DB
}

// NewTransactionMiddleware returns the transaction middleware.
func NewTransactionMiddleware(db *sql.DB) *TransactionMiddleware {
	return &TransactionMiddleware{db: db}
}

// Handle implements Middleware.
func (m *TransactionMiddleware) Handle(ctx context.Context, command Command, next HandlerFunc) (any, error) {
	if _, ok := command.(Transactional); !ok {
		return next(ctx, command)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	result, err := next(dbtx.ContextWithTx(ctx, tx), command)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger := pkg.NewLoggerFromContext(ctx)
			logger.Errorf("Error rolling back transaction for %s: %v", command.CommandName(), rbErr)
		}

		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return result, nil
}

// PublishMiddleware resets the unit of work before the handler and drains it
// afterwards, routing every event. It sits inside the transaction middleware,
// so integration events reach the outbox within the command's transaction.
type PublishMiddleware struct {
	uow    *events.UnitOfWork
	router *events.Router
}

// NewPublishMiddleware returns the publish middleware.
func NewPublishMiddleware(uow *events.UnitOfWork, router *events.Router) *PublishMiddleware {
	return &PublishMiddleware{
		uow:    uow,
		router: router,
	}
}

// Handle implements Middleware.
func (m *PublishMiddleware) Handle(ctx context.Context, command Command, next HandlerFunc) (any, error) {
	m.uow.Reset()

	result, err := next(ctx, command)
	if err != nil {
		return nil, err
	}

	for _, event := range m.uow.Drain() {
		if err := m.router.Publish(ctx, event); err != nil {
			return nil, err
		}
	}

	return result, nil
}
