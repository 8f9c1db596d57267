package lock

import (
	"context"
	"errors"
	"time"

	"github.com/AureliaStudio/conveyor/pkg"
	"github.com/AureliaStudio/conveyor/pkg/mpostgres"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository is the database fallback for the named lock: a row per held lock.
type Repository interface {
	TryInsert(ctx context.Context, name string, expiresAt time.Time) (bool, error)
	Delete(ctx context.Context, name string) error
	DeleteExpired(ctx context.Context, name string) error
	SweepExpired(ctx context.Context) (int64, error)
}

// LockPostgreSQLRepository is a Postgresql-specific implementation of the lock Repository.
type LockPostgreSQLRepository struct {
	connection *mpostgres.PostgresConnection
	tableName  string
}

// NewLockPostgreSQLRepository returns a new instance of LockPostgreSQLRepository using the given Postgres connection.
func NewLockPostgreSQLRepository(pc *mpostgres.PostgresConnection) *LockPostgreSQLRepository {
	r := &LockPostgreSQLRepository{
		connection: pc,
		tableName:  "distributed_locks",
	}

	_, err := r.connection.GetDB()
	if err != nil {
		panic("Failed to connect database")
	}

	return r
}

// TryInsert adds the lock row if no live row exists. A unique-violation means
// another holder won the race.
func (r *LockPostgreSQLRepository) TryInsert(ctx context.Context, name string, expiresAt time.Time) (bool, error) {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.lock_try_insert")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return false, err
	}

	result, err := db.ExecContext(ctx, `INSERT INTO distributed_locks (name, expires_at, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO NOTHING`,
		name, expiresAt, time.Now().UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return false, nil
		}

		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected == 1, nil
}

// Delete removes the lock row.
func (r *LockPostgreSQLRepository) Delete(ctx context.Context, name string) error {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.lock_delete")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `DELETE FROM distributed_locks WHERE name = $1`, name)

	return err
}

// DeleteExpired clears the row only when its TTL elapsed, so a live holder is
// never evicted.
func (r *LockPostgreSQLRepository) DeleteExpired(ctx context.Context, name string) error {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.lock_delete_expired")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `DELETE FROM distributed_locks WHERE name = $1 AND expires_at < $2`,
		name, time.Now().UTC())

	return err
}

// SweepExpired clears every expired lock row.
func (r *LockPostgreSQLRepository) SweepExpired(ctx context.Context) (int64, error) {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.lock_sweep_expired")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return 0, err
	}

	result, err := db.ExecContext(ctx, `DELETE FROM distributed_locks WHERE expires_at < $1`, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}
