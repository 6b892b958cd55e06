package reconcile

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rpattn/dataforge/internal/domain"
	"github.com/rpattn/dataforge/internal/geo"
)

// rowContext carries what every log entry of a row needs.
type rowContext struct {
	fileID     string
	index      int
	identifier string
}

func (rc rowContext) entry(field string, original, transformed any, status domain.LogStatus, details string) domain.LogEntry {
	pending := status == domain.LogStatusPendingProjectionZone ||
		status == domain.LogStatusPendingCoordinatesAndZone
	return domain.LogEntry{
		FileID:                rc.fileID,
		OriginalIndex:         rc.index,
		RowIdentifier:         rc.identifier,
		Field:                 field,
		OriginalValue:         original,
		TransformedValue:      transformed,
		Status:                status,
		Details:               details,
		IsError:               status == domain.LogStatusError,
		RequiresExternalInput: pending,
	}
}

func (rc rowContext) failure(field string, original any, details string) domain.LogEntry {
	return rc.entry(field, original, nil, domain.LogStatusError, details)
}

// normalizeAngle converts one latitude or longitude value to decimal degrees.
// It always returns exactly one log entry; ok is false when the value could
// not be used.
func normalizeAngle(rc rowContext, field string, axis geo.Axis, raw any) (float64, bool, domain.LogEntry) {
	if domain.IsPlaceholder(raw) {
		return 0, false, rc.failure(field, raw, geo.ErrEmptyAngle.Error())
	}

	var (
		value  float64
		status domain.LogStatus
		detail string
	)
	switch v := raw.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false, rc.failure(field, raw, "not a finite number")
		}
		value, status, detail = v, domain.LogStatusUnchanged, "already decimal degrees"
	case string:
		if n, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && !math.IsNaN(n) && !math.IsInf(n, 0) {
			value, status, detail = n, domain.LogStatusTransformed, "numeric string converted to number"
			break
		}
		parsed, err := geo.ParseAngle(v)
		if err != nil {
			return 0, false, rc.failure(field, raw, err.Error())
		}
		value, status, detail = parsed, domain.LogStatusTransformed, "DMS converted to decimal degrees"
	default:
		return 0, false, rc.failure(field, raw, fmt.Sprintf("unsupported %T value for an angle", raw))
	}

	if !axis.InRange(value) {
		return 0, false, rc.failure(field, raw, fmt.Sprintf("%s %v outside ±%v", axis, value, axis.Limit()))
	}
	return value, true, rc.entry(field, raw, value, status, detail)
}
