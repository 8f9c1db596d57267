package workitem

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/AureliaStudio/conveyor/internal/behaviour"
	"github.com/AureliaStudio/conveyor/pkg"
	cn "github.com/AureliaStudio/conveyor/pkg/constant"
	"github.com/AureliaStudio/conveyor/pkg/dbtx"
	"github.com/AureliaStudio/conveyor/pkg/mpostgres"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const workItemColumns = `id, workflow_id, behaviour_idx, phase, item_key, status, attempts,
		last_error, payload, blog_id, created_at, updated_at`

// WorkItemPostgreSQLRepository is a Postgresql-specific implementation of the behaviour WorkItemRepository.
type WorkItemPostgreSQLRepository struct {
	connection *mpostgres.PostgresConnection
	tableName  string
}

// NewWorkItemPostgreSQLRepository returns a new instance of WorkItemPostgreSQLRepository using the given Postgres connection.
func NewWorkItemPostgreSQLRepository(pc *mpostgres.PostgresConnection) *WorkItemPostgreSQLRepository {
	r := &WorkItemPostgreSQLRepository{
		connection: pc,
		tableName:  "behaviour_workflow_items",
	}

	_, err := r.connection.GetDB()
	if err != nil {
		panic("Failed to connect database")
	}

	return r
}

// GetByID retrieves a work item by its row id.
func (r *WorkItemPostgreSQLRepository) GetByID(ctx context.Context, id int64) (*behaviour.WorkItem, error) {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.get_work_item")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return nil, err
	}

	query, args, err := squirrel.Select(workItemColumns).
		From(r.tableName).
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, query, args...)

	item, err := scanWorkItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, pkg.ValidateBusinessError(cn.ErrWorkItemNotFound, "WorkItem")
		}

		return nil, err
	}

	return item, nil
}

// FindByUnique retrieves a work item by its ledger identity.
func (r *WorkItemPostgreSQLRepository) FindByUnique(ctx context.Context, workflowID string, behaviourIdx, phase int, itemKey string) (*behaviour.WorkItem, error) {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.find_work_item_by_unique")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return nil, err
	}

	query, args, err := squirrel.Select(workItemColumns).
		From(r.tableName).
		Where(squirrel.Eq{"workflow_id": workflowID}).
		Where(squirrel.Eq{"behaviour_idx": behaviourIdx}).
		Where(squirrel.Eq{"phase": phase}).
		Where(squirrel.Eq{"item_key": itemKey}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, query, args...)

	item, err := scanWorkItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, pkg.ValidateBusinessError(cn.ErrWorkItemNotFound, "WorkItem")
		}

		return nil, err
	}

	return item, nil
}

// GetForStep retrieves every ledger row of one workflow step and phase.
func (r *WorkItemPostgreSQLRepository) GetForStep(ctx context.Context, workflowID string, behaviourIdx, phase int) (behaviour.WorkItemList, error) {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.get_work_items_for_step")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return nil, err
	}

	query, args, err := squirrel.Select(workItemColumns).
		From(r.tableName).
		Where(squirrel.Eq{"workflow_id": workflowID}).
		Where(squirrel.Eq{"behaviour_idx": behaviourIdx}).
		Where(squirrel.Eq{"phase": phase}).
		OrderBy("id ASC").
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

	var items behaviour.WorkItemList

	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}

		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

// Save inserts a new ledger row or updates it by its unique key. A generated
// item matching an existing identity updates in place; the existing row's
// progress fields survive regeneration, while an executed item (carrying its
// row id) writes its status through.
func (r *WorkItemPostgreSQLRepository) Save(ctx context.Context, item *behaviour.WorkItem) (*behaviour.WorkItem, error) {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.save_work_item")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return nil, err
	}

	record := &WorkItemPostgreSQLModel{}
	if err := record.FromEntity(item); err != nil {
		return nil, err
	}

	exec := dbtx.GetExecutor(ctx, db)

	if item.ID != 0 {
		_, err = exec.ExecContext(ctx, `UPDATE behaviour_workflow_items
			SET status = $1, attempts = $2, last_error = $3, payload = $4, updated_at = $5
			WHERE id = $6`,
			record.Status, record.Attempts, record.LastError, record.Payload, record.UpdatedAt, record.ID)
		if err != nil {
			return nil, err
		}

		return item, nil
	}

	err = exec.QueryRowContext(ctx, `INSERT INTO behaviour_workflow_items (
			workflow_id, behaviour_idx, phase, item_key, status, attempts, last_error,
			payload, blog_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (workflow_id, behaviour_idx, phase, item_key) DO UPDATE SET
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at
		RETURNING id`,
		record.WorkflowID,
		record.BehaviourIdx,
		record.Phase,
		record.ItemKey,
		record.Status,
		record.Attempts,
		record.LastError,
		record.Payload,
		record.BlogID,
		record.CreatedAt,
		record.UpdatedAt,
	).Scan(&item.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			return nil, pkg.ValidatePGError(pgErr, "WorkItem")
		}

		return nil, err
	}

	return item, nil
}

// TransferToWorkflow moves the given rows to another workflow, keeping their
// identity but resetting their progress. Forked children own their items at
// step zero, phase one.
func (r *WorkItemPostgreSQLRepository) TransferToWorkflow(ctx context.Context, itemIDs []int64, workflowID string) error {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.transfer_work_items")
	defer span.End()

	if len(itemIDs) == 0 {
		return nil
	}

	db, err := r.connection.GetDB()
	if err != nil {
		return err
	}

	exec := dbtx.GetExecutor(ctx, db)

	_, err = exec.ExecContext(ctx, `UPDATE behaviour_workflow_items
		SET workflow_id = $1, behaviour_idx = 0, phase = 1, status = $2,
			attempts = 0, last_error = NULL, updated_at = $3
		WHERE id = ANY($4::bigint[])`,
		workflowID, string(behaviour.ItemPending), time.Now().UTC(), pq.Array(itemIDs))

	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkItem(row rowScanner) (*behaviour.WorkItem, error) {
	var m WorkItemPostgreSQLModel

	err := row.Scan(
		&m.ID,
		&m.WorkflowID,
		&m.BehaviourIdx,
		&m.Phase,
		&m.ItemKey,
		&m.Status,
		&m.Attempts,
		&m.LastError,
		&m.Payload,
		&m.BlogID,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return m.ToEntity()
}
