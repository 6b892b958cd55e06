package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rpattn/dataforge/internal/assist"
	"github.com/rpattn/dataforge/internal/domain"
	"github.com/rpattn/dataforge/internal/export"
	"github.com/rpattn/dataforge/internal/ingestion"
)

const (
	maxUploadBytes = 32 << 20
	maxBodyBytes   = 1 << 20
)

// Handler serves the session REST API.
type Handler struct {
	manager   *Manager
	ingestion *ingestion.Service
	assist    *assist.Service
	logger    *zap.Logger
	mux       *http.ServeMux
}

// NewHTTPHandler registers every session route. assist may be nil.
func NewHTTPHandler(manager *Manager, ingest *ingestion.Service, assistant *assist.Service, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		manager:   manager,
		ingestion: ingest,
		assist:    assistant,
		logger:    logger,
		mux:       http.NewServeMux(),
	}

	h.mux.Handle("POST /api/ingest/preview", ingestion.NewHTTPHandler(ingest))
	h.mux.HandleFunc("POST /api/sessions", h.create)
	h.mux.HandleFunc("GET /api/sessions/{id}", h.get)
	h.mux.HandleFunc("DELETE /api/sessions/{id}", h.delete)
	h.mux.HandleFunc("POST /api/sessions/{id}/files", h.addFiles)
	h.mux.HandleFunc("PUT /api/sessions/{id}/projections", h.setProjection)
	h.mux.HandleFunc("PUT /api/sessions/{id}/group-values", h.setGroupValue)
	h.mux.HandleFunc("PATCH /api/sessions/{id}/rows", h.patchRow)
	h.mux.HandleFunc("GET /api/sessions/{id}/pending", h.pending)
	h.mux.HandleFunc("GET /api/sessions/{id}/log", h.log)
	h.mux.HandleFunc("GET /api/sessions/{id}/runs", h.listRuns)
	h.mux.HandleFunc("POST /api/sessions/{id}/export", h.export)
	h.mux.HandleFunc("POST /api/sessions/{id}/describe", h.describe)
	h.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	files, err := h.readUploads(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	snap, err := h.manager.Create(r.Context(), files)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	snap, err := h.manager.Get(id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	if err := h.manager.Delete(id); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addFiles(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	files, err := h.readUploads(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	snap, err := h.manager.AddFiles(r.Context(), id, files)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type projectionRequest struct {
	RowUID     domain.RowUID         `json:"rowUid"`
	Projection domain.ProjectionSpec `json:"projection"`
	Easting    *string               `json:"easting,omitempty"`
	Northing   *string               `json:"northing,omitempty"`
}

func (h *Handler) setProjection(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var req projectionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	snap, err := h.manager.SetProjection(r.Context(), id, req.RowUID, domain.ProjectionOverride{
		Projection: req.Projection,
		Easting:    req.Easting,
		Northing:   req.Northing,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type groupValueRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (h *Handler) setGroupValue(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var req groupValueRequest
	if !decodeBody(w, r, &req) {
		return
	}
	snap, err := h.manager.SetGroupValue(r.Context(), id, req.Key, req.Value)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// rowPatch either edits one field or toggles deselection.
type rowPatch struct {
	RowUID     domain.RowUID   `json:"rowUid"`
	Field      string          `json:"field,omitempty"`
	Value      json.RawMessage `json:"value,omitempty"`
	Deselected *bool           `json:"deselected,omitempty"`
}

func (h *Handler) patchRow(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var req rowPatch
	if !decodeBody(w, r, &req) {
		return
	}

	var (
		snap Snapshot
		err  error
	)
	switch {
	case req.Deselected != nil && req.Field == "":
		snap, err = h.manager.SetDeselected(r.Context(), id, req.RowUID, *req.Deselected)
	case req.Field != "" && req.Deselected == nil:
		var value any
		if len(req.Value) > 0 {
			if err := json.Unmarshal(req.Value, &value); err != nil {
				http.Error(w, fmt.Sprintf("invalid value: %v", err), http.StatusBadRequest)
				return
			}
		}
		snap, err = h.manager.EditField(r.Context(), id, req.RowUID, req.Field, value)
	default:
		http.Error(w, "specify either field and value or deselected", http.StatusBadRequest)
		return
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) pending(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	pending, err := h.manager.Pending(id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (h *Handler) log(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	entries, err := h.manager.Log(id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := h.manager.Runs(r.Context(), id, limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

type exportRequest struct {
	export.Options
	FileIDs []string `json:"fileIds"`
}

// exportRows projects the rows of each selected file and merges them in the
// order the ids are given. No ids selects every file in upload order.
func exportRows(snap Snapshot, fileIDs []string) ([]domain.Row, error) {
	byFile := make(map[string][]domain.ProcessedRow, len(snap.Files))
	for _, f := range snap.Files {
		byFile[f.ID] = nil
	}
	for _, row := range snap.Rows {
		byFile[row.Provenance.FileID] = append(byFile[row.Provenance.FileID], row)
	}
	if len(fileIDs) == 0 {
		for _, f := range snap.Files {
			fileIDs = append(fileIDs, f.ID)
		}
	}
	sets := make([][]domain.Row, 0, len(fileIDs))
	for _, id := range fileIDs {
		rows, ok := byFile[id]
		if !ok {
			return nil, fmt.Errorf("%w: unknown file %q", ErrInvalidInput, id)
		}
		sets = append(sets, export.Project(rows))
	}
	return export.Merge(sets...), nil
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var req exportRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read body: %v", err), http.StatusBadRequest)
		return
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
			return
		}
	}
	opts := req.Options

	snap, err := h.manager.Get(id)
	if err != nil {
		h.fail(w, err)
		return
	}
	rows, err := exportRows(snap, req.FileIDs)
	if err != nil {
		h.fail(w, err)
		return
	}
	if len(opts.Keys) == 0 {
		opts.Keys = export.DefaultKeys(rows)
	}
	out, err := export.Restructure(rows, opts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var buf bytes.Buffer
	fileName := export.DefaultFileName
	contentType := "application/json"
	if r.URL.Query().Get("format") == "csv" {
		fileName = strings.TrimSuffix(fileName, ".json") + ".csv"
		contentType = "text/csv"
		err = export.WriteCSV(&buf, out)
	} else {
		err = export.WriteJSON(&buf, out)
	}
	if err != nil {
		h.fail(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) describe(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	if !h.assist.Enabled() {
		h.fail(w, assist.ErrDisabled)
		return
	}
	files, err := h.manager.Files(id)
	if err != nil {
		h.fail(w, err)
		return
	}

	var rows []domain.Row
	for _, f := range files {
		rows = append(rows, f.Rows...)
	}
	headers := domain.SourceFile{Rows: rows}.Headers()

	insights, err := h.assist.Describe(r.Context(), headers, rows)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, insights)
}

func (h *Handler) readUploads(r *http.Request) ([]domain.SourceFile, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, fmt.Errorf("%w: invalid form data: %v", ErrInvalidInput, err)
	}
	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		return nil, fmt.Errorf("%w: file required", ErrInvalidInput)
	}

	files := make([]domain.SourceFile, 0, len(headers))
	for _, header := range headers {
		file, err := h.load(r, header)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, nil
}

func (h *Handler) load(r *http.Request, header *multipart.FileHeader) (domain.SourceFile, error) {
	f, err := header.Open()
	if err != nil {
		return domain.SourceFile{}, fmt.Errorf("%w: failed to open %s: %v", ErrInvalidInput, header.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return domain.SourceFile{}, fmt.Errorf("%w: failed to read %s: %v", ErrInvalidInput, header.Filename, err)
	}
	file, err := h.ingestion.Load(r.Context(), ingestion.Request{
		FileName: header.Filename,
		Data:     bytes.NewReader(data),
	})
	if err != nil {
		return domain.SourceFile{}, fmt.Errorf("%w: %s: %w", ErrInvalidInput, header.Filename, err)
	}
	return file, nil
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	http.Error(w, err.Error(), status)
}

// StatusFor maps session, ingestion and assist errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrRowNotFound):
		return http.StatusNotFound
	case errors.Is(err, assist.ErrDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, assist.ErrInvalidResponse):
		return http.StatusBadGateway
	case errors.Is(err, ingestion.ErrUnsupportedFormat),
		errors.Is(err, ingestion.ErrEmptyFile),
		errors.Is(err, ingestion.ErrNoHeader):
		return ingestion.StatusFor(err)
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
