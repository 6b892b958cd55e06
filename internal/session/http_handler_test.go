package session

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rpattn/dataforge/internal/assist"
	"github.com/rpattn/dataforge/internal/domain"
	"github.com/rpattn/dataforge/internal/ingestion"
)

const surveyCSV = "PSM_No,Lat,Long,Easting/m,Northing/m,Island,URL\n" +
	"PSM-1,4:26:17.74208N,75,,,Foo,http://foo\n" +
	"PSM-2,,-,500000,490571.1103,Foo,\n" +
	"PSM-3,,,-,,Bar,\n"

type cannedGenerator struct{}

func (cannedGenerator) GenerateJSON(_ context.Context, prompt string) (string, error) {
	if strings.Contains(prompt, "transformations") {
		return `{"transformations":["Convert Lat/Long from DMS to decimal degrees"]}`, nil
	}
	return `{"PSM_No":"Station identifier (string)."}`, nil
}

func newTestServer(t *testing.T, generator assist.Generator) http.Handler {
	t.Helper()
	logger := zaptest.NewLogger(t)
	var assistant *assist.Service
	if generator != nil {
		assistant = assist.NewService(generator, logger)
	}
	return NewHTTPHandler(newTestManager(t, nil), ingestion.NewService(nil, logger), assistant, logger)
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, content := range files {
		part, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func do(t *testing.T, h http.Handler, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func createSession(t *testing.T, h http.Handler) Snapshot {
	t.Helper()
	body, contentType := multipartBody(t, map[string]string{"survey.csv": surveyCSV})
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var snap Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	return snap
}

func TestHandlerSessionLifecycle(t *testing.T) {
	h := newTestServer(t, nil)
	snap := createSession(t, h)
	require.Len(t, snap.Rows, 3)
	require.Len(t, snap.Pending.NeedsZone, 1)
	fileID := snap.Files[0].ID
	base := "/api/sessions/" + snap.ID.String()

	rec := do(t, h, http.MethodPut, base+"/projections",
		`{"rowUid":"`+fileID+`#1","projection":"43N"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPut, base+"/projections",
		`{"rowUid":"`+fileID+`#2","projection":{"zone":43,"hemisphere":"N"},"easting":"500000","northing":"490571.1103"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPut, base+"/group-values", `{"key":"Bar","value":"http://bar"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, base+"/pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var pending Pending
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	assert.Empty(t, pending.NeedsZone)
	assert.Empty(t, pending.NeedsCoordinatesAndZone)
	assert.Empty(t, pending.GroupKeys)

	rec = do(t, h, http.MethodGet, base+"/log", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var log []domain.LogEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &log))
	assert.NotEmpty(t, log)

	rec = do(t, h, http.MethodGet, base+"/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = do(t, h, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodGet, base, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerPatchRows(t *testing.T) {
	h := newTestServer(t, nil)
	snap := createSession(t, h)
	fileID := snap.Files[0].ID
	base := "/api/sessions/" + snap.ID.String()

	rec := do(t, h, http.MethodPatch, base+"/rows", `{"rowUid":"`+fileID+`#0","field":"PSM_No","value":"PSM-1A"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "PSM-1A", got.Rows[0].Provenance.DisplayIdentifier)

	rec = do(t, h, http.MethodPatch, base+"/rows", `{"rowUid":"`+fileID+`#0","deselected":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPatch, base+"/rows", `{"rowUid":"`+fileID+`#0","field":"PSM_No","deselected":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPatch, base+"/rows", `{"rowUid":"`+fileID+`#42","deselected":true}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExport(t *testing.T) {
	h := newTestServer(t, nil)
	snap := createSession(t, h)
	fileID := snap.Files[0].ID
	base := "/api/sessions/" + snap.ID.String()

	rec := do(t, h, http.MethodPatch, base+"/rows", `{"rowUid":"`+fileID+`#2","deselected":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, base+"/export",
		`{"keys":[{"name":"PSM_No","included":true,"rename":"Station"},{"name":"Island","included":true}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "dataforge_output.json")
	assert.JSONEq(t, `[{"Station":"PSM-1","Island":"Foo"},{"Station":"PSM-2","Island":"Foo"}]`, rec.Body.String())

	rec = do(t, h, http.MethodPost, base+"/export?format=csv", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "PSM_No,Lat,Long,"))

	rec = do(t, h, http.MethodPost, base+"/export",
		`{"keys":[{"name":"PSM_No","included":true,"rename":"Island"},{"name":"Island","included":true}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerExportSelectsAndOrdersFiles(t *testing.T) {
	h := newTestServer(t, nil)
	body, contentType := multipartBody(t, map[string]string{
		"survey.csv":  surveyCSV,
		"islands.csv": "ID,Island,URL\nA,Baz,http://baz\n",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var snap Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Len(t, snap.Files, 2)

	ids := make(map[string]string, 2)
	for _, f := range snap.Files {
		ids[f.Name] = f.ID
	}
	base := "/api/sessions/" + snap.ID.String()
	keys := `"keys":[{"name":"Island","included":true}]`

	rec = do(t, h, http.MethodPost, base+"/export",
		`{`+keys+`,"fileIds":["`+ids["islands.csv"]+`","`+ids["survey.csv"]+`"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `[{"Island":"Baz"},{"Island":"Foo"},{"Island":"Foo"},{"Island":"Bar"}]`, rec.Body.String())

	rec = do(t, h, http.MethodPost, base+"/export", `{`+keys+`,"fileIds":["`+ids["islands.csv"]+`"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `[{"Island":"Baz"}]`, rec.Body.String())

	rec = do(t, h, http.MethodPost, base+"/export", `{`+keys+`,"fileIds":["missing"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerDescribe(t *testing.T) {
	h := newTestServer(t, nil)
	snap := createSession(t, h)
	rec := do(t, h, http.MethodPost, "/api/sessions/"+snap.ID.String()+"/describe", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h = newTestServer(t, cannedGenerator{})
	snap = createSession(t, h)
	rec = do(t, h, http.MethodPost, "/api/sessions/"+snap.ID.String()+"/describe", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var insights assist.Insights
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &insights))
	assert.Equal(t, "Station identifier (string).", insights.ColumnDescriptions["PSM_No"])
	assert.Len(t, insights.Suggestions, 1)
}

func TestHandlerRejectsBadInput(t *testing.T) {
	h := newTestServer(t, nil)

	rec := do(t, h, http.MethodGet, "/api/sessions/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, contentType := multipartBody(t, map[string]string{"notes.pdf": "hello"})
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", body)
	req.Header.Set("Content-Type", contentType)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	snap := createSession(t, h)
	rec = do(t, h, http.MethodPut, "/api/sessions/"+snap.ID.String()+"/group-values", `{"key":"Bar","extra":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
