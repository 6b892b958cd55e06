package session

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rpattn/dataforge/internal/domain"
)

const meterName = "github.com/rpattn/dataforge/internal/session"

// Metrics counts engine runs and their outcomes.
type Metrics struct {
	runs    metric.Int64Counter
	rows    metric.Int64Counter
	entries metric.Int64Counter
}

// NewMetrics registers the counters on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)

	runs, err := meter.Int64Counter("dataforge.session.runs",
		metric.WithDescription("Engine invocations"))
	if err != nil {
		return nil, err
	}
	rows, err := meter.Int64Counter("dataforge.session.rows",
		metric.WithDescription("Processed rows by coordinate state"))
	if err != nil {
		return nil, err
	}
	entries, err := meter.Int64Counter("dataforge.session.log_entries",
		metric.WithDescription("Log entries by status"))
	if err != nil {
		return nil, err
	}
	return &Metrics{runs: runs, rows: rows, entries: entries}, nil
}

func (m *Metrics) record(ctx context.Context, trigger string, result domain.Result) {
	if m == nil {
		return
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))

	states := map[domain.CoordinateState]int64{}
	for _, row := range result.Rows {
		states[row.Provenance.Coordinates]++
	}
	for state, n := range states {
		m.rows.Add(ctx, n, metric.WithAttributes(attribute.String("coordinates", string(state))))
	}

	statuses := map[domain.LogStatus]int64{}
	for _, entry := range result.Log {
		statuses[entry.Status]++
	}
	for status, n := range statuses {
		m.entries.Add(ctx, n, metric.WithAttributes(attribute.String("status", string(status))))
	}
}
