package workflow

import (
	"context"
	"database/sql"
	"errors"

	"github.com/AureliaStudio/conveyor/internal/behaviour"
	"github.com/AureliaStudio/conveyor/internal/payloads"
	"github.com/AureliaStudio/conveyor/pkg"
	cn "github.com/AureliaStudio/conveyor/pkg/constant"
	"github.com/AureliaStudio/conveyor/pkg/dbtx"
	"github.com/AureliaStudio/conveyor/pkg/mpostgres"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
)

const workflowColumns = `id, ref_id, ref_type, root_workflow_id, behaviour_configs, behaviour_results,
		current_idx, current_phase, is_complete, is_failed, meta, created_at, updated_at, blog_id`

// WorkflowPostgreSQLRepository is a Postgresql-specific implementation of the behaviour WorkflowRepository.
type WorkflowPostgreSQLRepository struct {
	connection *mpostgres.PostgresConnection
	tableName  string
	codec      *payloads.Registry
}

// NewWorkflowPostgreSQLRepository returns a new instance of WorkflowPostgreSQLRepository using the given Postgres connection.
func NewWorkflowPostgreSQLRepository(pc *mpostgres.PostgresConnection, codec *payloads.Registry) *WorkflowPostgreSQLRepository {
	r := &WorkflowPostgreSQLRepository{
		connection: pc,
		tableName:  "behaviour_workflows",
		codec:      codec,
	}

	_, err := r.connection.GetDB()
	if err != nil {
		panic("Failed to connect database")
	}

	return r
}

// GetByID retrieves a workflow by id.
func (r *WorkflowPostgreSQLRepository) GetByID(ctx context.Context, id string) (*behaviour.Workflow, error) {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.get_workflow")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return nil, err
	}

	query, args, err := squirrel.Select(workflowColumns).
		From(r.tableName).
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, query, args...)

	w, err := r.scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, pkg.ValidateBusinessError(cn.ErrWorkflowNotFound, "BehaviourWorkflow")
		}

		return nil, err
	}

	return w, nil
}

// GetByRefID retrieves the workflows about a business object, newest first.
func (r *WorkflowPostgreSQLRepository) GetByRefID(ctx context.Context, refID, refType string) ([]*behaviour.Workflow, error) {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.get_workflows_by_ref")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return nil, err
	}

	query, args, err := squirrel.Select(workflowColumns).
		From(r.tableName).
		Where(squirrel.Eq{"ref_id": refID}).
		Where(squirrel.Eq{"ref_type": refType}).
		OrderBy("created_at DESC").
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

	var workflows []*behaviour.Workflow

	for rows.Next() {
		w, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, w)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return workflows, nil
}

// Save upserts the workflow row.
func (r *WorkflowPostgreSQLRepository) Save(ctx context.Context, w *behaviour.Workflow) (*behaviour.Workflow, error) {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.save_workflow")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return nil, err
	}

	record := &WorkflowPostgreSQLModel{}
	if err := record.FromEntity(w, r.codec); err != nil {
		return nil, err
	}

	exec := dbtx.GetExecutor(ctx, db)

	_, err = exec.ExecContext(ctx, `INSERT INTO behaviour_workflows (
			id, ref_id, ref_type, root_workflow_id, behaviour_configs, behaviour_results,
			current_idx, current_phase, is_complete, is_failed, meta, created_at, updated_at, blog_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			behaviour_configs = EXCLUDED.behaviour_configs,
			behaviour_results = EXCLUDED.behaviour_results,
			current_idx = EXCLUDED.current_idx,
			current_phase = EXCLUDED.current_phase,
			is_complete = EXCLUDED.is_complete,
			is_failed = EXCLUDED.is_failed,
			meta = EXCLUDED.meta,
			updated_at = EXCLUDED.updated_at`,
		record.ID,
		record.RefID,
		record.RefType,
		record.RootWorkflowID,
		record.Configs,
		record.Results,
		record.CurrentIdx,
		record.CurrentPhase,
		record.IsComplete,
		record.IsFailed,
		record.Meta,
		record.CreatedAt,
		record.UpdatedAt,
		record.BlogID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			return nil, pkg.ValidatePGError(pgErr, "BehaviourWorkflow")
		}

		return nil, err
	}

	return w, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *WorkflowPostgreSQLRepository) scanWorkflow(row rowScanner) (*behaviour.Workflow, error) {
	var m WorkflowPostgreSQLModel

	err := row.Scan(
		&m.ID,
		&m.RefID,
		&m.RefType,
		&m.RootWorkflowID,
		&m.Configs,
		&m.Results,
		&m.CurrentIdx,
		&m.CurrentPhase,
		&m.IsComplete,
		&m.IsFailed,
		&m.Meta,
		&m.CreatedAt,
		&m.UpdatedAt,
		&m.BlogID,
	)
	if err != nil {
		return nil, err
	}

	return m.ToEntity(r.codec)
}
