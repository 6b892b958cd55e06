package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/dataforge/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ingestionLogRepository struct {
	pool *pgxpool.Pool
}

// NewIngestionLogRepository wires a repository backed by pgxpool.
func NewIngestionLogRepository(pool *pgxpool.Pool) IngestionLogRepository {
	return &ingestionLogRepository{pool: pool}
}

func (r *ingestionLogRepository) Record(ctx context.Context, entry domain.IngestionLogEntry) error {
	if r.pool == nil {
		return fmt.Errorf("ingestion log repository not initialized")
	}

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	var rowNumber any
	if entry.RowNumber != nil {
		rowNumber = *entry.RowNumber
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO ingestion_logs (id, file_id, file_name, row_number, message)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.ID,
		entry.FileID,
		entry.FileName,
		rowNumber,
		entry.Message,
	)
	if err != nil {
		return fmt.Errorf("failed to record ingestion log: %w", err)
	}

	return nil
}

func (r *ingestionLogRepository) List(ctx context.Context, fileID string, limit int, offset int) ([]domain.IngestionLogEntry, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("ingestion log repository not initialized")
	}

	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, file_id, file_name, row_number, message, created_at
		 FROM ingestion_logs
		 WHERE file_id = $1
		 ORDER BY created_at DESC, id
		 LIMIT $2 OFFSET $3`,
		fileID,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingestion logs: %w", err)
	}
	defer rows.Close()

	logs := []domain.IngestionLogEntry{}
	for rows.Next() {
		var (
			entry     domain.IngestionLogEntry
			rowNumber pgtype.Int4
			createdAt pgtype.Timestamptz
		)
		if scanErr := rows.Scan(
			&entry.ID,
			&entry.FileID,
			&entry.FileName,
			&rowNumber,
			&entry.Message,
			&createdAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan ingestion log: %w", scanErr)
		}

		if rowNumber.Valid {
			value := int(rowNumber.Int32)
			entry.RowNumber = &value
		}
		if createdAt.Valid {
			entry.CreatedAt = createdAt.Time
		}

		logs = append(logs, entry)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate ingestion logs: %w", rowsErr)
	}

	return logs, nil
}
