package dbtx

import (
	"context"
	"database/sql"
)

// Executor is the common query surface of *sql.DB and *sql.Tx. Repositories
// run their statements through it so writes join an ambient transaction when
// one is open.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txContextKey string

var contextKey = txContextKey("dbtx")

// ContextWithTx attaches an open transaction to the context. A nil tx leaves
// the context unchanged.
func ContextWithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}

	return context.WithValue(ctx, contextKey, tx)
}

// TxFromContext returns the transaction carried by ctx, or nil.
func TxFromContext(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(contextKey).(*sql.Tx); ok {
		return tx
	}

	return nil
}

// GetExecutor returns the ambient transaction when one is open, the plain
// database handle otherwise.
//
//nolint:ireturn
func GetExecutor(ctx context.Context, db *sql.DB) Executor {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}

	return db
}
