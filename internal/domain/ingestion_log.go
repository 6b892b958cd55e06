package domain

import (
	"time"

	"github.com/google/uuid"
)

// IngestionLogEntry captures file or row level issues that occur during ingestion.
type IngestionLogEntry struct {
	ID        uuid.UUID `json:"id"`
	FileID    string    `json:"file_id"`
	FileName  string    `json:"file_name"`
	RowNumber *int      `json:"row_number,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
