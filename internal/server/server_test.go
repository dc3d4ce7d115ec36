package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convindex/convindex/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.DocumentStore) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "documents.json"), 3)
	require.NoError(t, err)
	return New(st, Options{Host: "127.0.0.1", Port: 0}), st
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestStatus(t *testing.T) {
	// Given: a server with one document
	srv, st := newTestServer(t)
	_, err := st.Insert(store.InsertRequest{Content: "hello"})
	require.NoError(t, err)

	// When: status is requested
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/status", nil)

	// Then: the shape matches the contract
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[statusResponse](t, rec)
	assert.Equal(t, "online", resp.Status)
	assert.Equal(t, 1, resp.Documents)
	assert.NotEmpty(t, resp.LastUpdated)
}

func TestInsertThenQuery_KeywordRelevance(t *testing.T) {
	// Given: the document from the canonical scenario
	srv, _ := newTestServer(t)
	h := srv.Handler()
	rec := doJSON(t, h, http.MethodPost, "/insert", map[string]any{
		"text":   "LightRAG is a retrieval system",
		"source": "manual",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	ins := decode[insertResponse](t, rec)
	require.True(t, ins.Success)
	require.NotEmpty(t, ins.DocumentID)

	// When: queried in keyword mode
	rec = doJSON(t, h, http.MethodPost, "/query", map[string]any{
		"query": "retrieval system",
		"mode":  "keyword",
	})

	// Then: the document comes back with relevance near 0.8
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[queryResponse](t, rec)
	require.Len(t, resp.Context, 1)
	assert.Equal(t, ins.DocumentID, resp.Context[0].DocumentID)
	assert.InDelta(t, 0.8, resp.Context[0].Relevance, 0.001)
	assert.Equal(t, "manual", resp.Context[0].Source)
}

func TestQuery_NoMatches_EmptyContext(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/query", map[string]any{
		"query": "nothing matches this",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[queryResponse](t, rec)
	assert.Empty(t, resp.Context)
	assert.Equal(t, "No relevant documents found.", resp.Response)
}

func TestQuery_InvalidMode_Rejected(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/query", map[string]any{
		"query": "anything",
		"mode":  "vector",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuery_MaxResultsHonored(t *testing.T) {
	srv, st := newTestServer(t)
	for _, content := range []string{"retrieval a", "retrieval b", "retrieval c"} {
		_, err := st.Insert(store.InsertRequest{Content: content})
		require.NoError(t, err)
	}

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/query", map[string]any{
		"query":       "retrieval",
		"max_results": 2,
	})

	resp := decode[queryResponse](t, rec)
	assert.Len(t, resp.Context, 2)
}

func TestInsert_EmptyText_Rejected(t *testing.T) {
	srv, st := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/insert", map[string]any{
		"text": "",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[insertResponse](t, rec)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
	assert.Equal(t, 0, st.Count())
}

func TestInsert_DefaultsSourceToManual(t *testing.T) {
	srv, st := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/insert", map[string]any{
		"text": "no source given",
	})

	resp := decode[insertResponse](t, rec)
	require.True(t, resp.Success)
	doc, err := st.Get(resp.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "manual", doc.Source)
}

func TestInsert_OpenMetadataTypes(t *testing.T) {
	// Given: metadata carrying numbers, lists, and strings
	srv, st := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/insert", map[string]any{
		"text": "imported record",
		"metadata": map[string]any{
			"retries": 2,
			"tags":    []string{"a", "b"},
			"origin":  "import",
		},
	})

	// Then: every value survives with its JSON type intact
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[insertResponse](t, rec)
	require.True(t, resp.Success)
	doc, err := st.Get(resp.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, float64(2), doc.Metadata["retries"])
	assert.Equal(t, []any{"a", "b"}, doc.Metadata["tags"])
	assert.Equal(t, "import", doc.Metadata["origin"])
}

func TestDelete_UnknownID_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/delete", map[string]any{
		"id": "doc_missing",
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decode[deleteResponse](t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "not found", resp.Error)
}

func TestDelete_RemovesDocument(t *testing.T) {
	srv, st := newTestServer(t)
	id, err := st.Insert(store.InsertRequest{Content: "short lived"})
	require.NoError(t, err)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/delete", map[string]any{"id": id})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[deleteResponse](t, rec).Success)
	assert.Equal(t, 0, st.Count())
}

func TestClear_WithoutConfirm_Refused(t *testing.T) {
	// Given: a store with a document
	srv, st := newTestServer(t)
	_, err := st.Insert(store.InsertRequest{Content: "survivor"})
	require.NoError(t, err)

	// When: clear is requested without confirmation
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/clear", map[string]any{
		"confirm": false,
	})

	// Then: the request fails and the store is untouched
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[clearResponse](t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "Confirmation required", resp.Error)
	assert.Equal(t, 1, st.Count())
}

func TestClear_Confirmed_ReportsBackup(t *testing.T) {
	srv, st := newTestServer(t)
	_, err := st.Insert(store.InsertRequest{Content: "doomed"})
	require.NoError(t, err)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/clear", map[string]any{
		"confirm": true,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[clearResponse](t, rec)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Backup)
	assert.Equal(t, 0, st.Count())
}

func TestMalformedBody_Rejected(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	for _, path := range []string{"/query", "/insert", "/delete", "/clear"} {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString("{broken"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}
