package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quaero/quaero/internal/config"
	"github.com/quaero/quaero/internal/corpus"
	"github.com/quaero/quaero/internal/dense"
	"github.com/quaero/quaero/internal/ingest"
	"github.com/quaero/quaero/internal/search"
	"github.com/quaero/quaero/internal/store"
	"github.com/quaero/quaero/internal/telemetry"
)

// stubDense mirrors whatever was ingested with fixed scores.
type stubDense struct {
	results []*dense.Result
	err     error
}

func (s *stubDense) Search(context.Context, string, int) ([]*dense.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

func newTestServer(t *testing.T, dn dense.Retriever) (*Server, *store.SQLiteMetadataStore) {
	t.Helper()

	keyword, err := store.NewBleveKeywordIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = keyword.Close() })

	meta, err := store.NewSQLiteMetadataStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	cfg := config.NewConfig()
	views := corpus.NewManager(cfg.Corpus)

	engine := search.NewEngine(keyword, dn, views, meta, cfg.Search,
		search.WithCache(search.NewResultCache(cfg.Cache.Capacity, cfg.Cache.TTL)),
		search.WithConfidenceGate(search.NewConfidenceGate(cfg.Confidence)),
	)
	coordinator := ingest.NewCoordinator(keyword, meta, views,
		ingest.WithCacheInvalidator(engine))

	srv := New(engine, coordinator, meta, keyword, telemetry.New(), cfg.Server, nil)
	return srv, meta
}

func ingestBody(docID string, contents ...string) []byte {
	req := map[string]any{
		"doc_id": docID,
		"metadata": map[string]any{
			"quality_score": 0.9,
			"signalness":    0.8,
			"do_index":      true,
		},
	}
	chunks := make([]map[string]any, len(contents))
	for i, c := range contents {
		chunks[i] = map[string]any{
			"chunk_id": fmt.Sprintf("%s-%d", docID, i),
			"content":  c,
			"metadata": map[string]string{"heading": "Announcements"},
		}
	}
	req["chunks"] = chunks
	body, _ := json.Marshal(req)
	return body
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, &stubDense{})
	rec := doRequest(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIngestThenSearch(t *testing.T) {
	srv, _ := newTestServer(t, &stubDense{})
	handler := srv.Handler()

	rec := doRequest(t, handler, http.MethodPost, "/v1/documents",
		ingestBody("doc1",
			"The kita handover time moves to 4:30 PM starting October 15.",
			"Lunch menu for the week includes pasta and salad."))
	require.Equal(t, http.StatusCreated, rec.Code)

	searchBody, _ := json.Marshal(map[string]any{
		"text":            "kita handover time",
		"top_k":           5,
		"with_confidence": true,
	})
	rec = doRequest(t, handler, http.MethodPost, "/v1/search", searchBody)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Results []struct {
			ChunkID string `json:"chunk_id"`
		} `json:"results"`
		TotalResults int `json:"total_results"`
		Confidence   *struct {
			Recommendation string `json:"recommendation"`
		} `json:"confidence"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotZero(t, resp.TotalResults)
	assert.Equal(t, "doc1-0", resp.Results[0].ChunkID)
	require.NotNil(t, resp.Confidence)
}

func TestSearch_EmptyQueryIs400(t *testing.T) {
	srv, _ := newTestServer(t, &stubDense{})

	body, _ := json.Marshal(map[string]any{"text": "  "})
	rec := doRequest(t, srv.Handler(), http.MethodPost, "/v1/search", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["code"])
}

func TestSearch_InvalidTopKIs400(t *testing.T) {
	srv, _ := newTestServer(t, &stubDense{})

	body, _ := json.Marshal(map[string]any{"text": "query", "top_k": 5000})
	rec := doRequest(t, srv.Handler(), http.MethodPost, "/v1/search", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearch_MalformedJSONIs400(t *testing.T) {
	srv, _ := newTestServer(t, &stubDense{})
	rec := doRequest(t, srv.Handler(), http.MethodPost, "/v1/search", []byte("{not json"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// A single failed retrieval path still answers; only both failing is a 502.
func TestSearch_DoubleRetrieverFailureIs502(t *testing.T) {
	srv, _ := newTestServer(t, &stubDense{err: errors.New("embedder down")})

	// Empty keyword corpus succeeds with zero results, so search still
	// answers 200 while only the dense path is down.
	body, _ := json.Marshal(map[string]any{"text": "anything"})
	rec := doRequest(t, srv.Handler(), http.MethodPost, "/v1/search", body)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIngest_Validation(t *testing.T) {
	srv, _ := newTestServer(t, &stubDense{})
	handler := srv.Handler()

	body, _ := json.Marshal(map[string]any{"chunks": []any{}})
	rec := doRequest(t, handler, http.MethodPost, "/v1/documents", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, _ = json.Marshal(map[string]any{"doc_id": "d1"})
	rec = doRequest(t, handler, http.MethodPost, "/v1/documents", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDocumentGetAndDelete(t *testing.T) {
	srv, _ := newTestServer(t, &stubDense{})
	handler := srv.Handler()

	rec := doRequest(t, handler, http.MethodPost, "/v1/documents",
		ingestBody("doc1", "parking permits are issued downstairs"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/v1/documents/doc1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, handler, http.MethodDelete, "/v1/documents/doc1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/v1/documents/doc1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStats(t *testing.T) {
	srv, _ := newTestServer(t, &stubDense{})
	handler := srv.Handler()

	rec := doRequest(t, handler, http.MethodPost, "/v1/documents",
		ingestBody("doc1", "first chunk of text", "second chunk of text"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Documents)
	assert.Equal(t, 2, resp.Chunks)
	assert.Equal(t, 1, resp.CanonicalDocs)
	assert.Equal(t, 2, resp.IndexedChunks)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &stubDense{})
	handler := srv.Handler()

	// Counters only appear in the exposition after a first observation.
	doRequest(t, handler, http.MethodGet, "/healthz", nil)

	rec := doRequest(t, handler, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "quaero_http_requests_total")
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, &stubDense{})
	handler := srv.Handler()

	rec := doRequest(t, handler, http.MethodGet, "/v1/search", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = doRequest(t, handler, http.MethodPut, "/v1/documents", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
