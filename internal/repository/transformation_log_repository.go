package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rpattn/dataforge/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

var logEntryColumns = []string{
	"run_id",
	"position",
	"file_id",
	"original_row_index",
	"row_identifier",
	"field",
	"original_value",
	"transformed_value",
	"status",
	"details",
	"is_error",
	"requires_external_input",
}

type transformationLogRepository struct {
	pool *pgxpool.Pool
}

// NewTransformationLogRepository wires a repository backed by pgxpool.
func NewTransformationLogRepository(pool *pgxpool.Pool) TransformationLogRepository {
	return &transformationLogRepository{pool: pool}
}

func (r *transformationLogRepository) SaveRun(ctx context.Context, run domain.TransformationRun, entries []domain.LogEntry) (domain.TransformationRun, error) {
	if r.pool == nil {
		return run, fmt.Errorf("transformation log repository not initialized")
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return run, fmt.Errorf("failed to encode run summary: %w", err)
	}

	rows := make([][]any, 0, len(entries))
	for position, entry := range entries {
		original, err := json.Marshal(entry.OriginalValue)
		if err != nil {
			return run, fmt.Errorf("failed to encode original value: %w", err)
		}
		transformed, err := json.Marshal(entry.TransformedValue)
		if err != nil {
			return run, fmt.Errorf("failed to encode transformed value: %w", err)
		}
		rows = append(rows, []any{
			run.ID,
			position,
			entry.FileID,
			entry.OriginalIndex,
			entry.RowIdentifier,
			entry.Field,
			json.RawMessage(original),
			json.RawMessage(transformed),
			string(entry.Status),
			entry.Details,
			entry.IsError,
			entry.RequiresExternalInput,
		})
	}

	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(
			ctx,
			`INSERT INTO transformation_runs (id, session_id, summary, created_at)
			 VALUES ($1, $2, $3, $4)`,
			run.ID,
			run.SessionID,
			json.RawMessage(summary),
			run.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert transformation run: %w", err)
		}

		if len(rows) == 0 {
			return nil
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"transformation_log_entries"}, logEntryColumns, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("failed to copy transformation log entries: %w", err)
		}
		return nil
	})
	if err != nil {
		return run, err
	}
	return run, nil
}

func (r *transformationLogRepository) ListRuns(ctx context.Context, sessionID uuid.UUID, limit int) ([]domain.TransformationRun, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("transformation log repository not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, session_id, summary, created_at
		 FROM transformation_runs
		 WHERE session_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		sessionID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list transformation runs: %w", err)
	}
	defer rows.Close()

	runs := []domain.TransformationRun{}
	for rows.Next() {
		var (
			run       domain.TransformationRun
			summary   []byte
			createdAt pgtype.Timestamptz
		)
		if err := rows.Scan(&run.ID, &run.SessionID, &summary, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transformation run: %w", err)
		}
		if err := json.Unmarshal(summary, &run.Summary); err != nil {
			return nil, fmt.Errorf("failed to decode run summary: %w", err)
		}
		if createdAt.Valid {
			run.CreatedAt = createdAt.Time
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transformation runs: %w", err)
	}
	return runs, nil
}

func (r *transformationLogRepository) ListEntries(ctx context.Context, runID uuid.UUID) ([]domain.LogEntry, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("transformation log repository not initialized")
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT file_id, original_row_index, row_identifier, field, original_value,
		        transformed_value, status, details, is_error, requires_external_input
		 FROM transformation_log_entries
		 WHERE run_id = $1
		 ORDER BY position`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list transformation log entries: %w", err)
	}
	defer rows.Close()

	entries := []domain.LogEntry{}
	for rows.Next() {
		var (
			entry       domain.LogEntry
			original    []byte
			transformed []byte
			status      string
		)
		if err := rows.Scan(
			&entry.FileID,
			&entry.OriginalIndex,
			&entry.RowIdentifier,
			&entry.Field,
			&original,
			&transformed,
			&status,
			&entry.Details,
			&entry.IsError,
			&entry.RequiresExternalInput,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transformation log entry: %w", err)
		}
		entry.Status = domain.LogStatus(status)
		if err := json.Unmarshal(original, &entry.OriginalValue); err != nil {
			return nil, fmt.Errorf("failed to decode original value: %w", err)
		}
		if err := json.Unmarshal(transformed, &entry.TransformedValue); err != nil {
			return nil, fmt.Errorf("failed to decode transformed value: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transformation log entries: %w", err)
	}
	return entries, nil
}
