package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// LogStatus is the outcome recorded for one field of one row.
type LogStatus string

const (
	LogStatusTransformed               LogStatus = "Transformed"
	LogStatusFilled                    LogStatus = "Filled"
	LogStatusUnchanged                 LogStatus = "Unchanged"
	LogStatusError                     LogStatus = "Error"
	LogStatusPendingProjectionZone     LogStatus = "PendingProjectionZone"
	LogStatusPendingCoordinatesAndZone LogStatus = "PendingCoordinatesAndZone"
)

// Valid reports whether the status is one of the known values.
func (s LogStatus) Valid() bool {
	switch s {
	case LogStatusTransformed, LogStatusFilled, LogStatusUnchanged, LogStatusError,
		LogStatusPendingProjectionZone, LogStatusPendingCoordinatesAndZone:
		return true
	}
	return false
}

const combinedFieldSeparator = ", "

// CombinedField joins field names into a pseudo-field such as "Lat, Long".
func CombinedField(names ...string) string {
	return strings.Join(names, combinedFieldSeparator)
}

// LogEntry records one decision taken on one field of one row.
type LogEntry struct {
	FileID                string    `json:"fileId"`
	OriginalIndex         int       `json:"originalRowIndex"`
	RowIdentifier         string    `json:"rowIdentifier"`
	Field                 string    `json:"field"`
	OriginalValue         any       `json:"originalValue"`
	TransformedValue      any       `json:"transformedValue"`
	Status                LogStatus `json:"status"`
	Details               string    `json:"details"`
	IsError               bool      `json:"isError"`
	RequiresExternalInput bool      `json:"requiresExternalInput"`
}

// Fields returns the constituent field names of a possibly combined field.
func (e LogEntry) Fields() []string {
	return strings.Split(e.Field, combinedFieldSeparator)
}

// TransformationRun is a persisted engine invocation.
type TransformationRun struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Summary   Summary   `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}
