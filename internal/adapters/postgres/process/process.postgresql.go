package process

import (
	"context"
	"database/sql"
	"errors"

	"github.com/AureliaStudio/conveyor/internal/longprocess"
	"github.com/AureliaStudio/conveyor/pkg"
	cn "github.com/AureliaStudio/conveyor/pkg/constant"
	"github.com/AureliaStudio/conveyor/pkg/dbtx"
	"github.com/AureliaStudio/conveyor/pkg/mpostgres"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
)

const processColumns = `id, process_class, business_data, steps, step_index, step_name, status,
		waiting_for, match_criteria, payload, correlation_id, last_error, created_at, updated_at, blog_id`

// ProcessPostgreSQLRepository is a Postgresql-specific implementation of the longprocess Repository.
type ProcessPostgreSQLRepository struct {
	connection *mpostgres.PostgresConnection
	tableName  string
}

// NewProcessPostgreSQLRepository returns a new instance of ProcessPostgreSQLRepository using the given Postgres connection.
func NewProcessPostgreSQLRepository(pc *mpostgres.PostgresConnection) *ProcessPostgreSQLRepository {
	r := &ProcessPostgreSQLRepository{
		connection: pc,
		tableName:  "long_processes",
	}

	_, err := r.connection.GetDB()
	if err != nil {
		panic("Failed to connect database")
	}

	return r
}

// Save upserts the process row.
func (r *ProcessPostgreSQLRepository) Save(ctx context.Context, p *longprocess.Process) (*longprocess.Process, error) {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.save_process")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return nil, err
	}

	record := &ProcessPostgreSQLModel{}
	if err := record.FromEntity(p); err != nil {
		return nil, err
	}

	exec := dbtx.GetExecutor(ctx, db)

	_, err = exec.ExecContext(ctx, `INSERT INTO long_processes (
			id, process_class, business_data, steps, step_index, step_name, status,
			waiting_for, match_criteria, payload, correlation_id, last_error, created_at, updated_at, blog_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			steps = EXCLUDED.steps,
			step_index = EXCLUDED.step_index,
			step_name = EXCLUDED.step_name,
			status = EXCLUDED.status,
			waiting_for = EXCLUDED.waiting_for,
			match_criteria = EXCLUDED.match_criteria,
			payload = EXCLUDED.payload,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at`,
		record.ID,
		record.ProcessClass,
		record.BusinessData,
		record.Steps,
		record.StepIndex,
		record.StepName,
		record.Status,
		record.WaitingFor,
		record.MatchCriteria,
		record.Payload,
		record.CorrelationID,
		record.LastError,
		record.CreatedAt,
		record.UpdatedAt,
		record.BlogID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			return nil, pkg.ValidatePGError(pgErr, "LongProcess")
		}

		return nil, err
	}

	return p, nil
}

// Find retrieves a process by id.
func (r *ProcessPostgreSQLRepository) Find(ctx context.Context, id string) (*longprocess.Process, error) {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.find_process")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return nil, err
	}

	query, args, err := squirrel.Select(processColumns).
		From(r.tableName).
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, query, args...)

	p, err := scanProcess(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, pkg.ValidateBusinessError(cn.ErrProcessNotFound, "LongProcess")
		}

		return nil, err
	}

	return p, nil
}

// FindWaitingFor retrieves the suspended processes awaiting the given event
// type, oldest first.
func (r *ProcessPostgreSQLRepository) FindWaitingFor(ctx context.Context, eventName string) ([]*longprocess.Process, error) {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.find_processes_waiting_for")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return nil, err
	}

	query, args, err := squirrel.Select(processColumns).
		From(r.tableName).
		Where(squirrel.Eq{"waiting_for": eventName}).
		Where(squirrel.Eq{"status": string(longprocess.StatusSuspended)}).
		OrderBy("created_at ASC").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var procs []*longprocess.Process

	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, err
		}

		procs = append(procs, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return procs, nil
}

// Delete removes a process row.
func (r *ProcessPostgreSQLRepository) Delete(ctx context.Context, id string) error {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.delete_process")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx, `DELETE FROM long_processes WHERE id = $1`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return pkg.ValidateBusinessError(cn.ErrProcessNotFound, "LongProcess")
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProcess(row rowScanner) (*longprocess.Process, error) {
	var m ProcessPostgreSQLModel

	err := row.Scan(
		&m.ID,
		&m.ProcessClass,
		&m.BusinessData,
		&m.Steps,
		&m.StepIndex,
		&m.StepName,
		&m.Status,
		&m.WaitingFor,
		&m.MatchCriteria,
		&m.Payload,
		&m.CorrelationID,
		&m.LastError,
		&m.CreatedAt,
		&m.UpdatedAt,
		&m.BlogID,
	)
	if err != nil {
		return nil, err
	}

	return m.ToEntity()
}
