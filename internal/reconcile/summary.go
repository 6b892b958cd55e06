package reconcile

import (
	"slices"

	"github.com/rpattn/dataforge/internal/domain"
)

// Summarize counts row states and log outcomes for the operator.
func Summarize(rows []domain.ProcessedRow, log []domain.LogEntry) domain.Summary {
	summary := domain.Summary{
		TotalRows:                len(rows),
		PendingGroupKeys:         []string{},
		ResolvedProjectionLabels: []string{},
	}

	for _, row := range rows {
		switch row.Provenance.Coordinates {
		case domain.CoordinatesComplete:
			summary.CompleteRows++
		case domain.CoordinatesNeedZone:
			summary.NeedsZoneRows++
		case domain.CoordinatesNeedCoordinatesAndZone:
			summary.NeedsCoordinatesRows++
		default:
			summary.NotApplicableRows++
		}
		if key := row.Provenance.PendingGroupKey; key != "" && !slices.Contains(summary.PendingGroupKeys, key) {
			summary.PendingGroupKeys = append(summary.PendingGroupKeys, key)
		}
		if label := row.Provenance.ResolvedProjection; label != "" && !slices.Contains(summary.ResolvedProjectionLabels, label) {
			summary.ResolvedProjectionLabels = append(summary.ResolvedProjectionLabels, label)
		}
	}

	for _, entry := range log {
		if entry.IsError {
			summary.ErrorEntries++
		}
		if entry.RequiresExternalInput {
			summary.ExternalInputEntries++
		}
	}

	slices.Sort(summary.PendingGroupKeys)
	slices.Sort(summary.ResolvedProjectionLabels)
	return summary
}
