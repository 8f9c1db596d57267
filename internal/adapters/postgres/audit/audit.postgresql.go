package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/AureliaStudio/conveyor/internal/audit"
	"github.com/AureliaStudio/conveyor/pkg"
	cn "github.com/AureliaStudio/conveyor/pkg/constant"
	"github.com/AureliaStudio/conveyor/pkg/mpostgres"

	"github.com/jackc/pgx/v5/pgconn"
)

// AuditPostgreSQLRepository is a Postgresql-specific implementation of the audit Repository.
type AuditPostgreSQLRepository struct {
	connection *mpostgres.PostgresConnection
	tableName  string
}

// NewAuditPostgreSQLRepository returns a new instance of AuditPostgreSQLRepository using the given Postgres connection.
func NewAuditPostgreSQLRepository(pc *mpostgres.PostgresConnection) *AuditPostgreSQLRepository {
	r := &AuditPostgreSQLRepository{
		connection: pc,
		tableName:  "command_audit",
	}

	_, err := r.connection.GetDB()
	if err != nil {
		panic("Failed to connect database")
	}

	return r
}

// CreatePreflight writes the in-progress row before the handler runs. It runs
// outside any command transaction on purpose: the row must survive a rollback.
func (r *AuditPostgreSQLRepository) CreatePreflight(ctx context.Context, a *audit.CommandAudit) (*audit.CommandAudit, error) {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.create_audit_preflight")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return nil, err
	}

	parameters, err := json.Marshal(audit.RedactParameters(a.Parameters))
	if err != nil {
		return nil, err
	}

	var sourceID sql.NullString
	if a.SourceID != nil {
		sourceID = sql.NullString{String: *a.SourceID, Valid: true}
	}

	err = db.QueryRowContext(ctx, `INSERT INTO command_audit (
			command_id, correlation_id, command_name, status, source, source_id,
			started_at, parameters, environment, blog_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		a.CommandID,
		a.CorrelationID,
		a.CommandName,
		string(a.Status),
		string(a.Source),
		sourceID,
		a.StartedAt,
		parameters,
		a.Environment,
		a.BlogID,
	).Scan(&a.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			return nil, pkg.ValidatePGError(pgErr, "CommandAudit")
		}

		return nil, err
	}

	return a, nil
}

// Finalize stamps the outcome onto the preflight row.
func (r *AuditPostgreSQLRepository) Finalize(ctx context.Context, a *audit.CommandAudit) error {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.finalize_audit")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return err
	}

	events, err := json.Marshal(a.Events)
	if err != nil {
		return err
	}

	var (
		finishedAt   sql.NullTime
		durationMs   sql.NullInt64
		peakMemory   sql.NullInt64
		errorType    sql.NullString
		errorMessage sql.NullString
		errorCode    sql.NullString
	)

	if a.FinishedAt != nil {
		finishedAt = sql.NullTime{Time: *a.FinishedAt, Valid: true}
	}

	if a.DurationMs != nil {
		durationMs = sql.NullInt64{Int64: *a.DurationMs, Valid: true}
	}

	if a.PeakMemoryBytes != nil {
		peakMemory = sql.NullInt64{Int64: *a.PeakMemoryBytes, Valid: true}
	}

	if a.ErrorType != nil {
		errorType = sql.NullString{String: *a.ErrorType, Valid: true}
	}

	if a.ErrorMessage != nil {
		errorMessage = sql.NullString{String: *a.ErrorMessage, Valid: true}
	}

	if a.ErrorCode != nil {
		errorCode = sql.NullString{String: *a.ErrorCode, Valid: true}
	}

	result, err := db.ExecContext(ctx, `UPDATE command_audit
		SET status = $1, finished_at = $2, duration_ms = $3, peak_memory_bytes = $4,
			events = $5, error_type = $6, error_message = $7, error_code = $8
		WHERE command_id = $9`,
		string(a.Status),
		finishedAt,
		durationMs,
		peakMemory,
		events,
		errorType,
		errorMessage,
		errorCode,
		a.CommandID,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return pkg.ValidateBusinessError(cn.ErrEntityNotFound, "CommandAudit")
	}

	return nil
}
