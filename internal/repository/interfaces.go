package repository

import (
	"context"

	"github.com/rpattn/dataforge/internal/domain"

	"github.com/google/uuid"
)

// IngestionLogRepository stores ingestion problems for observability.
type IngestionLogRepository interface {
	Record(ctx context.Context, entry domain.IngestionLogEntry) error
	List(ctx context.Context, fileID string, limit int, offset int) ([]domain.IngestionLogEntry, error)
}

// TransformationLogRepository persists engine runs and their log entries as
// an audit trail.
type TransformationLogRepository interface {
	SaveRun(ctx context.Context, run domain.TransformationRun, entries []domain.LogEntry) (domain.TransformationRun, error)
	ListRuns(ctx context.Context, sessionID uuid.UUID, limit int) ([]domain.TransformationRun, error)
	ListEntries(ctx context.Context, runID uuid.UUID) ([]domain.LogEntry, error)
}
