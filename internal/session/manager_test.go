package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/rpattn/dataforge/internal/domain"
	"github.com/rpattn/dataforge/internal/geo"
	"github.com/rpattn/dataforge/internal/reconcile"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type fixedConverter struct {
	coord geo.Coordinate
}

func (c fixedConverter) ToGeographic(_, _ float64, _ string) (geo.Coordinate, error) {
	return c.coord, nil
}

type stubRunRepo struct {
	mu      sync.Mutex
	runs    []domain.TransformationRun
	entries map[uuid.UUID][]domain.LogEntry
	err     error
}

func (s *stubRunRepo) SaveRun(_ context.Context, run domain.TransformationRun, entries []domain.LogEntry) (domain.TransformationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.TransformationRun{}, s.err
	}
	if s.entries == nil {
		s.entries = map[uuid.UUID][]domain.LogEntry{}
	}
	s.runs = append(s.runs, run)
	s.entries[run.ID] = entries
	return run, nil
}

func (s *stubRunRepo) ListRuns(_ context.Context, sessionID uuid.UUID, limit int) ([]domain.TransformationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TransformationRun
	for i := len(s.runs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.runs[i].SessionID == sessionID {
			out = append(out, s.runs[i])
		}
	}
	return out, nil
}

func (s *stubRunRepo) ListEntries(_ context.Context, runID uuid.UUID) ([]domain.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[runID], nil
}

func newTestManager(t *testing.T, runs *stubRunRepo) *Manager {
	t.Helper()
	engine := reconcile.NewEngine(reconcile.Options{
		Converter: fixedConverter{coord: geo.Coordinate{Latitude: 4.4382617, Longitude: 75}},
	})
	metrics, err := NewMetrics()
	require.NoError(t, err)
	if runs == nil {
		return NewManager(engine, nil, metrics, zaptest.NewLogger(t))
	}
	return NewManager(engine, runs, metrics, zaptest.NewLogger(t))
}

func surveyFile() domain.SourceFile {
	return domain.SourceFile{
		ID:   "survey",
		Name: "survey.csv",
		Rows: []domain.Row{
			domain.NewRow(
				domain.F("PSM_No", "PSM-1"),
				domain.F("Lat", "4:26:17.74208N"),
				domain.F("Long", float64(75)),
				domain.F("Easting/m", ""),
				domain.F("Northing/m", ""),
				domain.F("Island", "Foo"),
				domain.F("URL", "http://foo"),
			),
			domain.NewRow(
				domain.F("PSM_No", "PSM-2"),
				domain.F("Lat", ""),
				domain.F("Long", "-"),
				domain.F("Easting/m", "500000"),
				domain.F("Northing/m", "490571.1103"),
				domain.F("Island", "Foo"),
				domain.F("URL", ""),
			),
			domain.NewRow(
				domain.F("PSM_No", "PSM-3"),
				domain.F("Lat", ""),
				domain.F("Long", ""),
				domain.F("Easting/m", "-"),
				domain.F("Northing/m", ""),
				domain.F("Island", "Bar"),
				domain.F("URL", ""),
			),
		},
	}
}

func TestManagerFollowUpFlow(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, nil)

	snap, err := mgr.Create(ctx, []domain.SourceFile{surveyFile()})
	require.NoError(t, err)
	require.Len(t, snap.Rows, 3)
	require.Len(t, snap.Pending.NeedsZone, 1)
	require.Len(t, snap.Pending.NeedsCoordinatesAndZone, 1)
	assert.Equal(t, "PSM-2", snap.Pending.NeedsZone[0].DisplayIdentifier)
	assert.Equal(t, "PSM-3", snap.Pending.NeedsCoordinatesAndZone[0].DisplayIdentifier)
	assert.Equal(t, []string{"Bar"}, snap.Pending.GroupKeys)

	second := domain.RowUID{FileID: "survey", Index: 1}
	snap, err = mgr.SetProjection(ctx, snap.ID, second, domain.ProjectionOverride{
		Projection: domain.ZoneProjection(43, domain.HemisphereNorth),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CoordinatesComplete, snap.Rows[1].Provenance.Coordinates)
	assert.Equal(t, "43N", snap.Rows[1].Provenance.ResolvedProjection)
	assert.Empty(t, snap.Pending.NeedsZone)

	easting, northing := "500000", "490571.1103"
	snap, err = mgr.SetProjection(ctx, snap.ID, domain.RowUID{FileID: "survey", Index: 2}, domain.ProjectionOverride{
		Projection: domain.ZoneProjection(43, domain.HemisphereNorth),
		Easting:    &easting,
		Northing:   &northing,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CoordinatesComplete, snap.Rows[2].Provenance.Coordinates)

	snap, err = mgr.SetGroupValue(ctx, snap.ID, "Bar", "http://bar")
	require.NoError(t, err)
	url, _ := snap.Rows[2].Data.Get("URL")
	assert.Equal(t, "http://bar", url)
	assert.False(t, snap.Summary.Pending())
	assert.Empty(t, snap.Pending.GroupKeys)
}

func TestManagerEditAndDeselect(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, nil)
	original := surveyFile()

	snap, err := mgr.Create(ctx, []domain.SourceFile{original})
	require.NoError(t, err)

	third := domain.RowUID{FileID: "survey", Index: 2}
	snap, err = mgr.EditField(ctx, snap.ID, third, "PSM_No", "PSM-3A")
	require.NoError(t, err)
	assert.Equal(t, "PSM-3A", snap.Rows[2].Provenance.DisplayIdentifier)
	assert.Equal(t, "PSM-3A", snap.Pending.NeedsCoordinatesAndZone[0].DisplayIdentifier)

	// The caller's rows are not touched.
	id, _ := original.Rows[2].Get("PSM_No")
	assert.Equal(t, "PSM-3", id)

	snap, err = mgr.SetDeselected(ctx, snap.ID, third, true)
	require.NoError(t, err)
	assert.True(t, snap.Rows[2].Provenance.Deselected)
	assert.Empty(t, snap.Pending.NeedsCoordinatesAndZone)
	assert.Empty(t, snap.Pending.GroupKeys)
	assert.Equal(t, []string{"Bar"}, snap.Summary.PendingGroupKeys)

	// Deselection survives later runs.
	snap, err = mgr.SetGroupValue(ctx, snap.ID, "Bar", "http://bar")
	require.NoError(t, err)
	assert.True(t, snap.Rows[2].Provenance.Deselected)

	snap, err = mgr.SetDeselected(ctx, snap.ID, third, false)
	require.NoError(t, err)
	assert.False(t, snap.Rows[2].Provenance.Deselected)
}

func TestManagerPendingGroupKeysFollowSelection(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, nil)

	snap, err := mgr.Create(ctx, []domain.SourceFile{surveyFile()})
	require.NoError(t, err)
	assert.Equal(t, []string{"Bar"}, snap.Pending.GroupKeys)

	third := domain.RowUID{FileID: "survey", Index: 2}
	snap, err = mgr.SetDeselected(ctx, snap.ID, third, true)
	require.NoError(t, err)
	assert.Empty(t, snap.Pending.GroupKeys)

	snap, err = mgr.SetDeselected(ctx, snap.ID, third, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bar"}, snap.Pending.GroupKeys)
}

func TestManagerAddFilesRejectsDuplicateIDs(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, nil)

	snap, err := mgr.Create(ctx, []domain.SourceFile{surveyFile()})
	require.NoError(t, err)

	_, err = mgr.AddFiles(ctx, snap.ID, []domain.SourceFile{surveyFile()})
	assert.ErrorIs(t, err, ErrInvalidInput)

	extra := domain.SourceFile{ID: "extra", Name: "extra.json", Rows: []domain.Row{
		domain.NewRow(domain.F("Island", "Bar"), domain.F("URL", "http://bar")),
	}}
	snap, err = mgr.AddFiles(ctx, snap.ID, []domain.SourceFile{extra})
	require.NoError(t, err)
	assert.Len(t, snap.Files, 2)
	assert.Empty(t, snap.Pending.GroupKeys)
}

func TestManagerErrors(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, nil)

	_, err := mgr.Get(uuid.New())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, mgr.Delete(uuid.New()), ErrSessionNotFound)

	_, err = mgr.Create(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	snap, err := mgr.Create(ctx, []domain.SourceFile{surveyFile()})
	require.NoError(t, err)

	_, err = mgr.SetProjection(ctx, snap.ID, domain.RowUID{FileID: "survey", Index: 9}, domain.ProjectionOverride{
		Projection: domain.ZoneProjection(43, domain.HemisphereNorth),
	})
	assert.ErrorIs(t, err, ErrRowNotFound)

	_, err = mgr.SetProjection(ctx, snap.ID, domain.RowUID{FileID: "survey", Index: 1}, domain.ProjectionOverride{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = mgr.EditField(ctx, snap.ID, domain.RowUID{FileID: "other", Index: 0}, "PSM_No", "x")
	assert.ErrorIs(t, err, ErrRowNotFound)

	_, err = mgr.SetGroupValue(ctx, snap.ID, " ", "http://x")
	assert.ErrorIs(t, err, ErrInvalidInput)

	require.NoError(t, mgr.Delete(snap.ID))
	_, err = mgr.Pending(snap.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManagerPersistsRuns(t *testing.T) {
	ctx := context.Background()
	repo := &stubRunRepo{}
	mgr := newTestManager(t, repo)

	snap, err := mgr.Create(ctx, []domain.SourceFile{surveyFile()})
	require.NoError(t, err)
	require.NotNil(t, snap.RunID)

	_, err = mgr.SetGroupValue(ctx, snap.ID, "Bar", "http://bar")
	require.NoError(t, err)

	runs, err := mgr.Runs(ctx, snap.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Empty(t, runs[0].Summary.PendingGroupKeys)
	assert.Equal(t, []string{"Bar"}, runs[1].Summary.PendingGroupKeys)

	log, err := mgr.Log(snap.ID)
	require.NoError(t, err)
	assert.Len(t, repo.entries[runs[0].ID], len(log))
}

func TestManagerToleratesPersistenceFailure(t *testing.T) {
	repo := &stubRunRepo{err: errors.New("connection refused")}
	mgr := newTestManager(t, repo)

	snap, err := mgr.Create(context.Background(), []domain.SourceFile{surveyFile()})
	require.NoError(t, err)
	assert.Nil(t, snap.RunID)
	assert.Len(t, snap.Rows, 3)
}

func TestManagerConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t, nil)

	snap, err := mgr.Create(ctx, []domain.SourceFile{surveyFile()})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := mgr.SetDeselected(ctx, snap.ID, domain.RowUID{FileID: "survey", Index: i % 3}, i%2 == 0)
			assert.NoError(t, err)
			_, err = mgr.Get(snap.ID)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := mgr.Get(snap.ID)
	require.NoError(t, err)
	assert.Len(t, got.Rows, 3)
}
