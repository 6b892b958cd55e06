package reconcile

import (
	"cmp"
	"slices"
	"strings"

	"github.com/rpattn/dataforge/internal/domain"
)

type coverKey struct {
	fileID string
	index  int
	field  string
}

// BuildLog adds an entry for every original field no entry mentions yet and
// returns the log ordered by file, row and field. Rows must be in the same
// order as the files' rows.
func BuildLog(files []domain.SourceFile, rows []domain.ProcessedRow, entries []domain.LogEntry) []domain.LogEntry {
	covered := make(map[coverKey]struct{}, len(entries))
	for _, entry := range entries {
		for _, field := range entry.Fields() {
			covered[coverKey{entry.FileID, entry.OriginalIndex, field}] = struct{}{}
		}
	}

	log := make([]domain.LogEntry, 0, len(entries))
	log = append(log, entries...)

	next := 0
	for _, file := range files {
		for index, original := range file.Rows {
			processed := rows[next]
			next++
			rc := rowContext{fileID: file.ID, index: index, identifier: processed.Provenance.DisplayIdentifier}
			for _, name := range original.Names() {
				if _, ok := covered[coverKey{file.ID, index, name}]; ok {
					continue
				}
				raw, _ := original.Get(name)
				final, _ := processed.Data.Get(name)
				if raw == final {
					log = append(log, rc.entry(name, raw, final, domain.LogStatusUnchanged, "no change required"))
				} else {
					log = append(log, rc.entry(name, raw, final, domain.LogStatusTransformed, "value type coerced"))
				}
			}
		}
	}

	slices.SortStableFunc(log, func(a, b domain.LogEntry) int {
		return cmp.Or(
			strings.Compare(a.FileID, b.FileID),
			cmp.Compare(a.OriginalIndex, b.OriginalIndex),
			strings.Compare(a.Field, b.Field),
		)
	})
	return log
}
