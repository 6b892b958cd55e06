package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// maxUploadBytes bounds multipart parsing for previews and uploads.
const maxUploadBytes = 32 << 20

// Handler exposes file previews as an HTTP endpoint.
type Handler struct {
	service *Service
}

// NewHTTPHandler wraps the service with a POST preview endpoint.
func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("file required: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read file: %v", err), http.StatusBadRequest)
		return
	}

	req := PreviewRequest{
		FileName: header.Filename,
		Data:     bytes.NewReader(data),
	}
	if raw := strings.TrimSpace(r.FormValue("headerRowIndex")); raw != "" {
		index, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "headerRowIndex must be an integer", http.StatusBadRequest)
			return
		}
		req.HeaderRowIndex = &index
	}
	if raw := strings.TrimSpace(r.FormValue("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		req.Limit = limit
	}

	result, err := h.service.Preview(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), StatusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// StatusFor maps ingestion errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
