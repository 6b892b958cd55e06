package reconcile

import (
	"math"
	"strconv"
	"strings"

	"github.com/rpattn/dataforge/internal/domain"
)

// projectedValue is the outcome of reading one easting or northing.
type projectedValue struct {
	value float64
	valid bool
}

// parseProjectedNumber accepts numbers and numeric strings with thousands
// separators. ok is false for anything else.
func parseProjectedNumber(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, !math.IsNaN(v) && !math.IsInf(v, 0)
	case string:
		cleaned := strings.ReplaceAll(strings.TrimSpace(v), ",", "")
		n, err := strconv.ParseFloat(cleaned, 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// readProjected parses a projected coordinate already present on the row.
// Blank and placeholder values count as absent and produce no entry.
func readProjected(rc rowContext, data domain.Row, field string) (domain.Row, projectedValue, []domain.LogEntry) {
	if field == "" {
		return data, projectedValue{}, nil
	}
	raw, ok := data.Get(field)
	if !ok || domain.IsPlaceholder(raw) {
		return data, projectedValue{}, nil
	}

	n, valid := parseProjectedNumber(raw)
	if !valid {
		return data, projectedValue{}, []domain.LogEntry{rc.failure(field, raw, "not a numeric projected coordinate")}
	}
	if _, isString := raw.(string); isString {
		return data.With(field, n), projectedValue{value: n, valid: true},
			[]domain.LogEntry{rc.entry(field, raw, n, domain.LogStatusTransformed, "numeric string converted to number")}
	}
	return data, projectedValue{value: n, valid: true}, nil
}

// applyProjectedOverride writes an externally supplied easting or northing.
// A nil or blank override leaves the current value in place.
func applyProjectedOverride(rc rowContext, data domain.Row, field string, override *string, current projectedValue) (domain.Row, projectedValue, []domain.LogEntry) {
	if override == nil || strings.TrimSpace(*override) == "" {
		return data, current, nil
	}
	original, _ := data.Get(field)
	n, ok := parseProjectedNumber(*override)
	if !ok {
		return data, current, []domain.LogEntry{rc.failure(field, original, "supplied value "+strconv.Quote(*override)+" is not numeric")}
	}
	return data.With(field, n), projectedValue{value: n, valid: true},
		[]domain.LogEntry{rc.entry(field, original, n, domain.LogStatusFilled, "supplied externally")}
}
