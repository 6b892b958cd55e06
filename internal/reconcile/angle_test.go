package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rpattn/dataforge/internal/domain"
	"github.com/rpattn/dataforge/internal/geo"
)

func TestNormalizeAngle(t *testing.T) {
	rc := rowContext{fileID: "f", index: 0, identifier: "PSM-1"}

	tests := []struct {
		name       string
		raw        any
		axis       geo.Axis
		wantValue  float64
		wantOK     bool
		wantStatus domain.LogStatus
	}{
		{name: "dms string", raw: "4:26:17.74208N", axis: geo.AxisLatitude, wantValue: 4.438261688888889, wantOK: true, wantStatus: domain.LogStatusTransformed},
		{name: "numeric passthrough", raw: 12.5, axis: geo.AxisLatitude, wantValue: 12.5, wantOK: true, wantStatus: domain.LogStatusUnchanged},
		{name: "numeric string", raw: "75.25", axis: geo.AxisLongitude, wantValue: 75.25, wantOK: true, wantStatus: domain.LogStatusTransformed},
		{name: "empty string", raw: "", axis: geo.AxisLatitude, wantStatus: domain.LogStatusError},
		{name: "placeholder", raw: "-", axis: geo.AxisLatitude, wantStatus: domain.LogStatusError},
		{name: "nil", raw: nil, axis: geo.AxisLongitude, wantStatus: domain.LogStatusError},
		{name: "too many parts", raw: "1:2:3:4", axis: geo.AxisLatitude, wantStatus: domain.LogStatusError},
		{name: "latitude out of range", raw: "95 00 00N", axis: geo.AxisLatitude, wantStatus: domain.LogStatusError},
		{name: "boolean", raw: true, axis: geo.AxisLongitude, wantStatus: domain.LogStatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, ok, entry := normalizeAngle(rc, "Lat", tt.axis, tt.raw)

			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantStatus, entry.Status)
			assert.Equal(t, tt.raw, entry.OriginalValue)
			assert.Equal(t, "PSM-1", entry.RowIdentifier)
			if tt.wantOK {
				assert.InDelta(t, tt.wantValue, value, 1e-9)
				assert.False(t, entry.IsError)
			} else {
				assert.True(t, entry.IsError)
				assert.Nil(t, entry.TransformedValue)
			}
		})
	}

	_, _, entry := normalizeAngle(rc, "Lat", geo.AxisLatitude, "")
	assert.Equal(t, "empty or placeholder value", entry.Details)
}
