// Package session keeps uploaded files and operator input between engine
// runs. Every change re-runs the engine over the session's own copy of the
// input rows.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rpattn/dataforge/internal/domain"
	"github.com/rpattn/dataforge/internal/reconcile"
	"github.com/rpattn/dataforge/internal/repository"
)

var (
	// ErrSessionNotFound is returned for unknown or deleted sessions.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRowNotFound is returned when a row uid does not belong to the session.
	ErrRowNotFound = errors.New("row not found")
	// ErrInvalidInput is returned for malformed operator input.
	ErrInvalidInput = errors.New("invalid input")
)

// FileInfo describes a file held by a session.
type FileInfo struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Rows    int      `json:"rows"`
	Headers []string `json:"headers"`
}

// PendingRow is a row waiting for operator input.
type PendingRow struct {
	RowUID            domain.RowUID `json:"rowUid"`
	FileName          string        `json:"fileName"`
	DisplayIdentifier string        `json:"displayIdentifier"`
	Data              domain.Row    `json:"data"`
}

// Pending lists what the operator still has to supply.
type Pending struct {
	NeedsZone               []PendingRow `json:"needsZone"`
	NeedsCoordinatesAndZone []PendingRow `json:"needsCoordinatesAndZone"`
	GroupKeys               []string     `json:"groupKeys"`
}

// Snapshot is the state of a session after its latest run.
type Snapshot struct {
	ID          uuid.UUID                  `json:"id"`
	Files       []FileInfo                 `json:"files"`
	Rows        []domain.ProcessedRow      `json:"transformedRows"`
	Summary     domain.Summary             `json:"summary"`
	Pending     Pending                    `json:"pending"`
	GroupValues domain.GroupValueOverrides `json:"groupValues"`
	RunID       *uuid.UUID                 `json:"runId,omitempty"`
	UpdatedAt   time.Time                  `json:"updatedAt"`
}

type session struct {
	mu          sync.Mutex
	id          uuid.UUID
	files       []domain.SourceFile
	projections domain.ProjectionOverrides
	groupValues domain.GroupValueOverrides
	deselected  map[domain.RowUID]bool
	result      domain.Result
	runID       *uuid.UUID
	updatedAt   time.Time
}

// Manager owns all live sessions.
type Manager struct {
	engine  *reconcile.Engine
	runs    repository.TransformationLogRepository
	metrics *Metrics
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[uuid.UUID]*session
}

// NewManager returns a Manager. runs and metrics are optional.
func NewManager(engine *reconcile.Engine, runs repository.TransformationLogRepository, metrics *Metrics, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		engine:   engine,
		runs:     runs,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[uuid.UUID]*session),
	}
}

// Create starts a session over the given files and runs the engine once.
func (m *Manager) Create(ctx context.Context, files []domain.SourceFile) (Snapshot, error) {
	s := &session{
		id:          uuid.New(),
		projections: domain.ProjectionOverrides{},
		groupValues: domain.GroupValueOverrides{},
		deselected:  map[domain.RowUID]bool{},
	}
	if err := s.addFiles(files); err != nil {
		return Snapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m.run(ctx, s, "create")

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.logger.Info("session created",
		zap.String("session_id", s.id.String()),
		zap.Int("files", len(s.files)),
		zap.Int("rows", len(s.result.Rows)))
	return s.snapshot(), nil
}

// Get returns the latest snapshot of a session.
func (m *Manager) Get(id uuid.UUID) (Snapshot, error) {
	s, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(), nil
}

// Delete drops a session.
func (m *Manager) Delete(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	m.logger.Info("session deleted", zap.String("session_id", id.String()))
	return nil
}

// AddFiles appends files to a session.
func (m *Manager) AddFiles(ctx context.Context, id uuid.UUID, files []domain.SourceFile) (Snapshot, error) {
	return m.update(ctx, id, "add_files", func(s *session) error {
		return s.addFiles(files)
	})
}

// SetProjection records projection data for one row.
func (m *Manager) SetProjection(ctx context.Context, id uuid.UUID, uid domain.RowUID, override domain.ProjectionOverride) (Snapshot, error) {
	if override.Projection.IsZero() {
		return Snapshot{}, fmt.Errorf("%w: projection is required", ErrInvalidInput)
	}
	return m.update(ctx, id, "projection", func(s *session) error {
		if _, ok := s.row(uid); !ok {
			return fmt.Errorf("%w: %s", ErrRowNotFound, uid)
		}
		s.projections[uid] = override
		return nil
	})
}

// SetGroupValue records the value for a group key. An empty value removes it.
func (m *Manager) SetGroupValue(ctx context.Context, id uuid.UUID, key, value string) (Snapshot, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Snapshot{}, fmt.Errorf("%w: key is required", ErrInvalidInput)
	}
	return m.update(ctx, id, "group_value", func(s *session) error {
		value = strings.TrimSpace(value)
		if value == "" {
			delete(s.groupValues, key)
			return nil
		}
		s.groupValues[key] = value
		return nil
	})
}

// EditField replaces one value in the session's copy of an input row.
func (m *Manager) EditField(ctx context.Context, id uuid.UUID, uid domain.RowUID, field string, value any) (Snapshot, error) {
	if strings.TrimSpace(field) == "" {
		return Snapshot{}, fmt.Errorf("%w: field is required", ErrInvalidInput)
	}
	return m.update(ctx, id, "edit", func(s *session) error {
		fileIndex, ok := s.row(uid)
		if !ok {
			return fmt.Errorf("%w: %s", ErrRowNotFound, uid)
		}
		rows := s.files[fileIndex].Rows
		rows[uid.Index] = rows[uid.Index].With(field, domain.NormalizeScalar(value))
		return nil
	})
}

// SetDeselected marks a row as excluded from export.
func (m *Manager) SetDeselected(ctx context.Context, id uuid.UUID, uid domain.RowUID, deselected bool) (Snapshot, error) {
	return m.update(ctx, id, "deselect", func(s *session) error {
		if _, ok := s.row(uid); !ok {
			return fmt.Errorf("%w: %s", ErrRowNotFound, uid)
		}
		if deselected {
			s.deselected[uid] = true
		} else {
			delete(s.deselected, uid)
		}
		return nil
	})
}

// Pending returns the operator work queue of a session.
func (m *Manager) Pending(id uuid.UUID) (Pending, error) {
	snap, err := m.Get(id)
	if err != nil {
		return Pending{}, err
	}
	return snap.Pending, nil
}

// Log returns the transformation log of the latest run.
func (m *Manager) Log(id uuid.UUID) ([]domain.LogEntry, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.LogEntry, len(s.result.Log))
	copy(out, s.result.Log)
	return out, nil
}

// Files returns the session's current input files, edits included.
func (m *Manager) Files(id uuid.UUID) ([]domain.SourceFile, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneFiles(s.files), nil
}

// Runs lists the persisted runs of a session, newest first.
func (m *Manager) Runs(ctx context.Context, id uuid.UUID, limit int) ([]domain.TransformationRun, error) {
	if _, err := m.lookup(id); err != nil {
		return nil, err
	}
	if m.runs == nil {
		return []domain.TransformationRun{}, nil
	}
	return m.runs.ListRuns(ctx, id, limit)
}

func (m *Manager) lookup(id uuid.UUID) (*session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *Manager) update(ctx context.Context, id uuid.UUID, trigger string, mutate func(*session) error) (Snapshot, error) {
	s, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := mutate(s); err != nil {
		return Snapshot{}, err
	}
	m.run(ctx, s, trigger)
	return s.snapshot(), nil
}

// run must be called with s.mu held.
func (m *Manager) run(ctx context.Context, s *session, trigger string) {
	result := m.engine.Apply(s.files, s.projections, s.groupValues)
	MarkDeselected(&result, s.deselected)
	s.result = result
	s.updatedAt = m.now().UTC()
	m.metrics.record(ctx, trigger, result)

	m.logger.Debug("engine run",
		zap.String("session_id", s.id.String()),
		zap.String("trigger", trigger),
		zap.Int("rows", result.Summary.TotalRows),
		zap.Int("errors", result.Summary.ErrorEntries),
		zap.Bool("pending", result.Summary.Pending()))

	if m.runs == nil {
		return
	}
	run, err := m.runs.SaveRun(ctx, domain.TransformationRun{
		ID:        uuid.New(),
		SessionID: s.id,
		Summary:   result.Summary,
		CreatedAt: s.updatedAt,
	}, result.Log)
	if err != nil {
		m.logger.Warn("failed to persist transformation run",
			zap.String("session_id", s.id.String()),
			zap.Error(err))
		return
	}
	runID := run.ID
	s.runID = &runID
}

func (s *session) addFiles(files []domain.SourceFile) error {
	if len(files) == 0 {
		return fmt.Errorf("%w: at least one file is required", ErrInvalidInput)
	}
	combined := append(append([]domain.SourceFile{}, s.files...), files...)
	if err := reconcile.CheckFileIDs(combined); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	s.files = append(s.files, cloneFiles(files)...)
	return nil
}

// row returns the file position holding uid.
func (s *session) row(uid domain.RowUID) (int, bool) {
	for i, f := range s.files {
		if f.ID == uid.FileID {
			return i, uid.Index >= 0 && uid.Index < len(f.Rows)
		}
	}
	return 0, false
}

func (s *session) snapshot() Snapshot {
	files := make([]FileInfo, len(s.files))
	for i, f := range s.files {
		files[i] = FileInfo{ID: f.ID, Name: f.Name, Rows: len(f.Rows), Headers: f.Headers()}
	}

	rows := make([]domain.ProcessedRow, len(s.result.Rows))
	copy(rows, s.result.Rows)

	groupValues := make(domain.GroupValueOverrides, len(s.groupValues))
	for k, v := range s.groupValues {
		groupValues[k] = v
	}

	return Snapshot{
		ID:          s.id,
		Files:       files,
		Rows:        rows,
		Summary:     s.result.Summary,
		Pending:     buildPending(s.result),
		GroupValues: groupValues,
		RunID:       s.runID,
		UpdatedAt:   s.updatedAt,
	}
}

func buildPending(result domain.Result) Pending {
	pending := Pending{
		NeedsZone:               []PendingRow{},
		NeedsCoordinatesAndZone: []PendingRow{},
		GroupKeys:               []string{},
	}
	for _, row := range result.Rows {
		if row.Provenance.Deselected {
			continue
		}
		if key := row.Provenance.PendingGroupKey; key != "" && !slices.Contains(pending.GroupKeys, key) {
			pending.GroupKeys = append(pending.GroupKeys, key)
		}
		item := PendingRow{
			RowUID:            row.Provenance.RowUID,
			FileName:          row.Provenance.FileName,
			DisplayIdentifier: row.Provenance.DisplayIdentifier,
			Data:              row.Data,
		}
		switch row.Provenance.Coordinates {
		case domain.CoordinatesNeedZone:
			pending.NeedsZone = append(pending.NeedsZone, item)
		case domain.CoordinatesNeedCoordinatesAndZone:
			pending.NeedsCoordinatesAndZone = append(pending.NeedsCoordinatesAndZone, item)
		}
	}
	slices.Sort(pending.GroupKeys)
	return pending
}

func cloneFiles(files []domain.SourceFile) []domain.SourceFile {
	out := make([]domain.SourceFile, len(files))
	for i, f := range files {
		out[i] = domain.SourceFile{ID: f.ID, Name: f.Name, Rows: append([]domain.Row(nil), f.Rows...)}
	}
	return out
}
