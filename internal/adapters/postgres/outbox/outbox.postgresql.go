package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/AureliaStudio/conveyor/internal/outbox"
	"github.com/AureliaStudio/conveyor/pkg"
	cn "github.com/AureliaStudio/conveyor/pkg/constant"
	"github.com/AureliaStudio/conveyor/pkg/dbtx"
	"github.com/AureliaStudio/conveyor/pkg/mpostgres"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// RetryPolicy configures the exponential backoff computed by MarkFailed.
type RetryPolicy struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

// Repository provides an interface for operations related to outbox entries.
type Repository interface {
	Create(ctx context.Context, entry *outbox.Entry) (*outbox.Entry, error)
	FindByEventID(ctx context.Context, eventID string) (*outbox.Entry, error)
	FindByCorrelationID(ctx context.Context, correlationID string) ([]*outbox.Entry, error)
	FetchPending(ctx context.Context, limit int, workerID string, lockTTL time.Duration) ([]*outbox.Entry, error)
	MarkCompleted(ctx context.Context, eventID, workerID string) error
	MarkFailed(ctx context.Context, eventID, workerID, errMsg string) error
	MoveToDLQ(ctx context.Context, eventID, errMsg string) error
	ReleaseStaleLocks(ctx context.Context) (int64, error)
	CancelDuplicates(ctx context.Context, eventType, payloadSignature string) (int64, error)
	GetStats(ctx context.Context) (*outbox.Stats, error)
	PurgeCompleted(ctx context.Context, olderThan time.Duration) (int64, error)
	ResolveDLQEntry(ctx context.Context, dlqID int64) error
}

const outboxColumns = `id, event_id, event_type, integration_action, message_kind, transport, queue,
		payload_bytes, correlation_id, sequence, command_id, payload, delay_seconds, scheduled_at,
		is_unique, status, attempts, max_attempts, next_attempt_at, locked_until, locked_by,
		last_error, error_history, created_at, processed_at, blog_id`

// OutboxPostgreSQLRepository is a Postgresql-specific implementation of the outbox Repository.
type OutboxPostgreSQLRepository struct {
	connection *mpostgres.PostgresConnection
	tableName  string
	dlqTable   string
	policy     RetryPolicy
}

// NewOutboxPostgreSQLRepository returns a new instance of OutboxPostgreSQLRepository using the given Postgres connection.
func NewOutboxPostgreSQLRepository(pc *mpostgres.PostgresConnection, policy RetryPolicy) *OutboxPostgreSQLRepository {
	r := &OutboxPostgreSQLRepository{
		connection: pc,
		tableName:  "integration_outbox",
		dlqTable:   "integration_dlq",
		policy:     policy,
	}

	_, err := r.connection.GetDB()
	if err != nil {
		panic("Failed to connect database")
	}

	return r
}

// Create inserts a pending outbox entry. The statement runs through the
// ambient transaction when the command opened one, so the event commits
// atomically with the business writes.
func (r *OutboxPostgreSQLRepository) Create(ctx context.Context, entry *outbox.Entry) (*outbox.Entry, error) {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.create_outbox_entry")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return nil, err
	}

	record := &OutboxPostgreSQLModel{}
	if err := record.FromEntity(entry); err != nil {
		return nil, err
	}

	exec := dbtx.GetExecutor(ctx, db)

	err = exec.QueryRowContext(ctx, `INSERT INTO integration_outbox (
			event_id, event_type, integration_action, message_kind, transport, queue,
			payload_bytes, correlation_id, sequence, command_id, payload, delay_seconds, scheduled_at,
			is_unique, status, attempts, max_attempts, error_history, created_at, blog_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING id`,
		record.EventID,
		record.EventType,
		record.IntegrationAction,
		record.MessageKind,
		record.Transport,
		record.Queue,
		record.PayloadBytes,
		record.CorrelationID,
		record.Sequence,
		record.CommandID,
		record.Payload,
		record.DelaySeconds,
		record.ScheduledAt,
		record.IsUnique,
		record.Status,
		record.Attempts,
		record.MaxAttempts,
		record.ErrorHistory,
		record.CreatedAt,
		record.BlogID,
	).Scan(&entry.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			return nil, pkg.ValidatePGError(pgErr, "OutboxEntry")
		}

		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			return nil, pkg.ValidatePQError(pqErr, "OutboxEntry")
		}

		return nil, err
	}

	return entry, nil
}

// FindByEventID retrieves an outbox entry by its event id.
func (r *OutboxPostgreSQLRepository) FindByEventID(ctx context.Context, eventID string) (*outbox.Entry, error) {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.find_outbox_entry")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return nil, err
	}

	query, args, err := squirrel.Select(outboxColumns).
		From(r.tableName).
		Where(squirrel.Eq{"event_id": eventID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	exec := dbtx.GetExecutor(ctx, db)

	row := exec.QueryRowContext(ctx, query, args...)

	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, pkg.ValidateBusinessError(cn.ErrOutboxEntryNotFound, "OutboxEntry")
		}

		return nil, err
	}

	return entry, nil
}

// FindByCorrelationID retrieves every entry of a correlation ordered by sequence.
func (r *OutboxPostgreSQLRepository) FindByCorrelationID(ctx context.Context, correlationID string) ([]*outbox.Entry, error) {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.find_outbox_by_correlation")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return nil, err
	}

	query, args, err := squirrel.Select(outboxColumns).
		From(r.tableName).
		Where(squirrel.Eq{"correlation_id": correlationID}).
		OrderBy("sequence ASC").
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

	var entries []*outbox.Entry

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

// FetchPending claims up to limit due entries for the given worker. The claim
// runs in one transaction: due rows are selected with skip-locked semantics,
// then updated with the worker lease before commit, so exactly one worker
// holds each row at any instant.
func (r *OutboxPostgreSQLRepository) FetchPending(ctx context.Context, limit int, workerID string, lockTTL time.Duration) ([]*outbox.Entry, error) {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.fetch_pending_outbox")
	defer span.End()

	if limit <= 0 {
		return []*outbox.Entry{}, nil
	}

	db, err := r.connection.GetDB()
	if err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()

	rows, err := tx.QueryContext(ctx, `SELECT `+outboxColumns+`
		FROM integration_outbox
		WHERE status = $1
		  AND scheduled_at <= $2
		  AND (next_attempt_at IS NULL OR next_attempt_at <= $2)
		  AND (locked_until IS NULL OR locked_until <= $2)
		ORDER BY scheduled_at ASC, correlation_id ASC, sequence ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED`,
		string(outbox.StatusPending), now, limit)
	if err != nil {
		return nil, err
	}

	var entries []*outbox.Entry

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}

		entries = append(entries, entry)
	}

	rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(entries) == 0 {
		return []*outbox.Entry{}, tx.Commit()
	}

	ids := make([]int64, len(entries))
	for i, entry := range entries {
		ids[i] = entry.ID
	}

	lockedUntil := now.Add(lockTTL)

	_, err = tx.ExecContext(ctx, `UPDATE integration_outbox
		SET status = $1, locked_until = $2, locked_by = $3
		WHERE id = ANY($4::bigint[])`,
		string(outbox.StatusProcessing), lockedUntil, workerID, pq.Array(ids))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	for _, entry := range entries {
		entry.Status = outbox.StatusProcessing
		entry.LockedUntil = &lockedUntil
		worker := workerID
		entry.LockedBy = &worker
	}

	return entries, nil
}

// MarkCompleted finishes a claimed entry. The worker guard keeps a resurrected
// worker from updating a row that was re-claimed after its lease expired.
func (r *OutboxPostgreSQLRepository) MarkCompleted(ctx context.Context, eventID, workerID string) error {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.mark_outbox_completed")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx, `UPDATE integration_outbox
		SET status = $1, processed_at = $2, locked_until = NULL, locked_by = NULL
		WHERE event_id = $3 AND locked_by = $4 AND status = $5`,
		string(outbox.StatusCompleted), time.Now().UTC(), eventID, workerID, string(outbox.StatusProcessing))
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return pkg.ValidateBusinessError(cn.ErrOutboxEntryNotFound, "OutboxEntry")
	}

	return nil
}

// MarkFailed schedules a retry: it increments attempts, appends the sanitized
// error to the history, computes the exponential backoff and returns the row
// to the pending pool. It never moves the row to the DLQ; that decision
// belongs to the processor.
func (r *OutboxPostgreSQLRepository) MarkFailed(ctx context.Context, eventID, workerID, errMsg string) error {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.mark_outbox_failed")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return err
	}

	entry, err := r.FindByEventID(ctx, eventID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts := entry.Attempts + 1
	sanitized := outbox.SanitizeErrorMessage(errMsg)

	history := append(entry.ErrorHistory, outbox.ErrorRecord{
		Message:    sanitized,
		Attempt:    attempts,
		OccurredAt: now,
	})

	historyRaw, err := json.Marshal(history)
	if err != nil {
		return err
	}

	delay := outbox.RetryDelay(attempts, r.policy.BaseDelay, r.policy.Multiplier, r.policy.MaxDelay)
	nextAttemptAt := now.Add(delay)

	result, err := db.ExecContext(ctx, `UPDATE integration_outbox
		SET status = $1, attempts = $2, last_error = $3, error_history = $4,
			next_attempt_at = $5, locked_until = NULL, locked_by = NULL
		WHERE event_id = $6 AND locked_by = $7`,
		string(outbox.StatusPending), attempts, sanitized, historyRaw, nextAttemptAt, eventID, workerID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return pkg.ValidateBusinessError(cn.ErrOutboxEntryNotFound, "OutboxEntry")
	}

	return nil
}

// MoveToDLQ records the terminal failure, copies the entry into the
// dead-letter table and marks the outbox row terminal, in one transaction.
func (r *OutboxPostgreSQLRepository) MoveToDLQ(ctx context.Context, eventID, errMsg string) error {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.move_outbox_to_dlq")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return err
	}

	entry, err := r.FindByEventID(ctx, eventID)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	attempts := entry.Attempts + 1
	finalError := outbox.SanitizeErrorMessage(errMsg)

	history := append(entry.ErrorHistory, outbox.ErrorRecord{
		Message:    finalError,
		Attempt:    attempts,
		OccurredAt: now,
	})

	historyRaw, err := json.Marshal(history)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO integration_dlq (
			event_id, event_type, integration_action, correlation_id, payload,
			attempts, final_error, moved_at, blog_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.EventID, entry.EventType, entry.IntegrationAction, entry.CorrelationID,
		payload, attempts, finalError, now, entry.BlogID)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `UPDATE integration_outbox
		SET status = $1, attempts = $2, last_error = $3, error_history = $4,
			locked_until = NULL, locked_by = NULL, processed_at = $5
		WHERE event_id = $6`,
		string(outbox.StatusDLQ), attempts, finalError, historyRaw, now, eventID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// ReleaseStaleLocks returns expired leases to the pending pool. A row is stale
// once its locked_until passed; the call is idempotent.
func (r *OutboxPostgreSQLRepository) ReleaseStaleLocks(ctx context.Context) (int64, error) {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.release_stale_outbox_locks")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return 0, err
	}

	result, err := db.ExecContext(ctx, `UPDATE integration_outbox
		SET status = $1, locked_until = NULL, locked_by = NULL
		WHERE status = $2 AND locked_until IS NOT NULL AND locked_until < $3`,
		string(outbox.StatusPending), string(outbox.StatusProcessing), time.Now().UTC())
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// CancelDuplicates supersedes pending unique entries of the same event type.
// The payload signature is accepted for exact-match extension; the baseline
// matches by type.
func (r *OutboxPostgreSQLRepository) CancelDuplicates(ctx context.Context, eventType, payloadSignature string) (int64, error) {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.cancel_duplicate_outbox")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return 0, err
	}

	exec := dbtx.GetExecutor(ctx, db)

	result, err := exec.ExecContext(ctx, `UPDATE integration_outbox
		SET status = $1
		WHERE event_type = $2 AND status = $3 AND is_unique = TRUE`,
		string(outbox.StatusCancelled), eventType, string(outbox.StatusPending))
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// GetStats returns the grouped entry counts plus the unresolved DLQ depth.
func (r *OutboxPostgreSQLRepository) GetStats(ctx context.Context) (*outbox.Stats, error) {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.outbox_stats")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM integration_outbox GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &outbox.Stats{
		ByStatus: make(map[outbox.OutboxStatus]int64),
	}

	for rows.Next() {
		var (
			status string
			count  int64
		)

		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}

		stats.ByStatus[outbox.OutboxStatus(status)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM integration_dlq WHERE resolved_at IS NULL`).
		Scan(&stats.UnresolvedDLQ)
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// PurgeCompleted deletes completed entries processed before the cutoff.
func (r *OutboxPostgreSQLRepository) PurgeCompleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.purge_completed_outbox")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-olderThan)

	result, err := db.ExecContext(ctx, `DELETE FROM integration_outbox
		WHERE status = $1 AND processed_at < $2`,
		string(outbox.StatusCompleted), cutoff)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// ResolveDLQEntry stamps resolved_at on a dead-letter row.
func (r *OutboxPostgreSQLRepository) ResolveDLQEntry(ctx context.Context, dlqID int64) error {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.resolve_dlq_entry")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx, `UPDATE integration_dlq SET resolved_at = $1 WHERE id = $2 AND resolved_at IS NULL`,
		time.Now().UTC(), dlqID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return pkg.ValidateBusinessError(cn.ErrEntityNotFound, "DLQEntry")
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*outbox.Entry, error) {
	var m OutboxPostgreSQLModel

	err := row.Scan(
		&m.ID,
		&m.EventID,
		&m.EventType,
		&m.IntegrationAction,
		&m.MessageKind,
		&m.Transport,
		&m.Queue,
		&m.PayloadBytes,
		&m.CorrelationID,
		&m.Sequence,
		&m.CommandID,
		&m.Payload,
		&m.DelaySeconds,
		&m.ScheduledAt,
		&m.IsUnique,
		&m.Status,
		&m.Attempts,
		&m.MaxAttempts,
		&m.NextAttemptAt,
		&m.LockedUntil,
		&m.LockedBy,
		&m.LastError,
		&m.ErrorHistory,
		&m.CreatedAt,
		&m.ProcessedAt,
		&m.BlogID,
	)
	if err != nil {
		return nil, err
	}

	return m.ToEntity()
}
