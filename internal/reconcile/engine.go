package reconcile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rpattn/dataforge/internal/domain"
	"github.com/rpattn/dataforge/internal/geo"
)

// Options configures an Engine. Zero values fall back to the defaults.
type Options struct {
	Aliases          Aliases
	IdentifierFields []string
	Projections      geo.ProjectionTable
	// DefaultProjection is used for rows without a projection override.
	// Leave it zero to always ask for a zone.
	DefaultProjection domain.ProjectionSpec
	Converter         geo.Converter
	ConflictPolicy    ConflictPolicy
}

// Engine reconciles batches of rows. It holds configuration only; every call
// to Apply is independent.
type Engine struct {
	opts Options
}

// NewEngine builds an engine, filling unset options with defaults.
func NewEngine(opts Options) *Engine {
	opts.Aliases = opts.Aliases.withDefaults()
	if len(opts.IdentifierFields) == 0 {
		opts.IdentifierFields = DefaultIdentifierFields
	}
	if opts.Projections == nil {
		opts.Projections = geo.DefaultProjectionTable()
	}
	if opts.ConflictPolicy == "" {
		opts.ConflictPolicy = KeepExistingOnConflict
	}
	return &Engine{opts: opts}
}

// ErrDuplicateFileID is returned by CheckFileIDs when two files share an id.
var ErrDuplicateFileID = errors.New("duplicate file id")

// CheckFileIDs verifies that every file has a non-blank id that is unique in
// the batch, so row uids are unique too.
func CheckFileIDs(files []domain.SourceFile) error {
	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		if strings.TrimSpace(f.ID) == "" {
			return fmt.Errorf("file %q has no id", f.Name)
		}
		if _, dup := seen[f.ID]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateFileID, f.ID)
		}
		seen[f.ID] = struct{}{}
	}
	return nil
}

// Apply processes every row of every file in input order. The override maps
// are only read. Problems are reported in the log and never abort the batch.
// File ids must be unique (see CheckFileIDs); callers validate before calling.
func (e *Engine) Apply(files []domain.SourceFile, projections domain.ProjectionOverrides, groupValues domain.GroupValueOverrides) domain.Result {
	maps := make([]FieldMap, len(files))
	for i, file := range files {
		maps[i] = e.opts.Aliases.Resolve(file.Headers())
	}
	resolved := BuildGroupValues(files, maps, groupValues)

	rows := make([]domain.ProcessedRow, 0)
	var log []domain.LogEntry
	for i, file := range files {
		for index, row := range file.Rows {
			processed, entries := e.processRow(file, index, row, maps[i], projections, resolved)
			rows = append(rows, processed)
			log = append(log, entries...)
		}
	}

	log = BuildLog(files, rows, log)
	return domain.Result{
		Rows:    rows,
		Log:     log,
		Summary: Summarize(rows, log),
	}
}

func (e *Engine) processRow(
	file domain.SourceFile,
	index int,
	row domain.Row,
	fm FieldMap,
	overrides domain.ProjectionOverrides,
	groupValues GroupValues,
) (domain.ProcessedRow, []domain.LogEntry) {
	uid := domain.RowUID{FileID: file.ID, Index: index}
	identifier, identifierField := ResolveIdentifier(row, index, file.Name, e.opts.IdentifierFields)
	rc := rowContext{fileID: file.ID, index: index, identifier: identifier}

	prov := domain.Provenance{
		RowUID:            uid,
		FileID:            file.ID,
		FileName:          file.Name,
		OriginalIndex:     index,
		DisplayIdentifier: identifier,
		IdentifierField:   identifierField,
		Coordinates:       domain.CoordinatesNotApplicable,
	}

	data := row
	var log []domain.LogEntry
	if fm.HasCoordinates() {
		var (
			outcome coordinateOutcome
			entries []domain.LogEntry
		)
		override, hasOverride := overrides[uid]
		data, outcome, entries = e.reconcileCoordinates(rc, data, fm, override, hasOverride)
		prov.Coordinates = outcome.state
		prov.ResolvedProjection = outcome.projection
		log = append(log, entries...)
	}

	data, pendingKey, entries := applyGroupValue(rc, data, fm, groupValues, e.opts.ConflictPolicy)
	prov.PendingGroupKey = pendingKey
	log = append(log, entries...)

	return domain.ProcessedRow{Data: data, Provenance: prov}, log
}

type coordinateOutcome struct {
	state      domain.CoordinateState
	projection string
}

// reconcileCoordinates walks one row through the coordinate states.
func (e *Engine) reconcileCoordinates(
	rc rowContext,
	data domain.Row,
	fm FieldMap,
	override domain.ProjectionOverride,
	hasOverride bool,
) (domain.Row, coordinateOutcome, []domain.LogEntry) {
	original := data
	latName, longName := fm.latitudeName(), fm.longitudeName()
	combined := domain.CombinedField(latName, longName)

	var log []domain.LogEntry
	collect := func(entries []domain.LogEntry) { log = append(log, entries...) }

	var (
		lat, long     float64
		latOK, longOK bool
		entries       []domain.LogEntry
	)
	data, lat, latOK, entries = readAngle(rc, data, fm.Latitude, geo.AxisLatitude)
	collect(entries)
	data, long, longOK, entries = readAngle(rc, data, fm.Longitude, geo.AxisLongitude)
	collect(entries)

	var easting, northing projectedValue
	data, easting, entries = readProjected(rc, data, fm.Easting)
	collect(entries)
	data, northing, entries = readProjected(rc, data, fm.Northing)
	collect(entries)
	if hasOverride {
		data, easting, entries = applyProjectedOverride(rc, data, fm.eastingName(), override.Easting, easting)
		collect(entries)
		data, northing, entries = applyProjectedOverride(rc, data, fm.northingName(), override.Northing, northing)
		collect(entries)
	}

	if latOK && longOK {
		return data, coordinateOutcome{state: domain.CoordinatesComplete}, log
	}

	before := pairText(original, latName, longName)
	if !easting.valid || !northing.valid {
		log = append(log, rc.entry(combined, before, nil, domain.LogStatusPendingCoordinatesAndZone,
			"no usable latitude/longitude or easting/northing; coordinates and a projection are required"))
		return data, coordinateOutcome{state: domain.CoordinatesNeedCoordinatesAndZone}, log
	}

	spec := e.opts.DefaultProjection
	if hasOverride && !override.Projection.IsZero() {
		spec = override.Projection
	}
	if spec.IsZero() {
		log = append(log, rc.entry(combined, before, nil, domain.LogStatusPendingProjectionZone,
			fmt.Sprintf("easting %v, northing %v present; a projection zone is required", easting.value, northing.value)))
		return data, coordinateOutcome{state: domain.CoordinatesNeedZone}, log
	}

	if e.opts.Converter == nil {
		log = append(log, rc.failure(combined, before, "no projection converter configured"))
		return data, coordinateOutcome{state: domain.CoordinatesNeedZone}, log
	}
	coord, label, err := geo.Convert(e.opts.Converter, e.opts.Projections, easting.value, northing.value, spec)
	if err != nil {
		log = append(log, rc.failure(combined, before, fmt.Sprintf("conversion with %s failed: %v", spec.Label(), err)))
		return data, coordinateOutcome{state: domain.CoordinatesNeedZone}, log
	}

	if !latOK {
		lat = coord.Latitude
		data = data.With(latName, lat)
	}
	if !longOK {
		long = coord.Longitude
		data = data.With(longName, long)
	}
	log = append(log, rc.entry(combined, before, domain.CombinedField(domain.FormatValue(lat), domain.FormatValue(long)),
		domain.LogStatusFilled, "converted from easting/northing using "+label))
	return data, coordinateOutcome{state: domain.CoordinatesComplete, projection: label}, log
}

// readAngle normalizes a present latitude or longitude. Blank and
// placeholder values count as missing and are left to the pair handling.
func readAngle(rc rowContext, data domain.Row, field string, axis geo.Axis) (domain.Row, float64, bool, []domain.LogEntry) {
	if field == "" {
		return data, 0, false, nil
	}
	raw, ok := data.Get(field)
	if !ok || domain.IsPlaceholder(raw) {
		return data, 0, false, nil
	}
	value, ok, entry := normalizeAngle(rc, field, axis, raw)
	if ok {
		data = data.With(field, value)
	}
	return data, value, ok, []domain.LogEntry{entry}
}

func pairText(row domain.Row, first, second string) string {
	a, _ := row.Get(first)
	b, _ := row.Get(second)
	return domain.CombinedField(domain.FormatValue(a), domain.FormatValue(b))
}
