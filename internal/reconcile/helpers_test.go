package reconcile

import (
	"errors"
	"strings"
	"sync"

	"github.com/rpattn/dataforge/internal/domain"
	"github.com/rpattn/dataforge/internal/geo"
)

// stubConverter returns a fixed coordinate and records the definitions used.
type stubConverter struct {
	mu          sync.Mutex
	coord       geo.Coordinate
	definitions []string
}

func (s *stubConverter) ToGeographic(easting, northing float64, definition string) (geo.Coordinate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.definitions = append(s.definitions, definition)
	if strings.Contains(definition, "broken") {
		return geo.Coordinate{}, errors.New("proj: unknown projection")
	}
	return s.coord, nil
}

func newTestEngine(conv geo.Converter) *Engine {
	return NewEngine(Options{Converter: conv})
}

func findEntry(log []domain.LogEntry, fileID string, index int, field string) (domain.LogEntry, bool) {
	for _, entry := range log {
		if entry.FileID == fileID && entry.OriginalIndex == index && entry.Field == field {
			return entry, true
		}
	}
	return domain.LogEntry{}, false
}

func strPtr(s string) *string { return &s }
