package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/vecpipe/internal/config"
	"github.com/hyperjump/vecpipe/internal/embedding"
	"github.com/hyperjump/vecpipe/internal/index"
	"github.com/hyperjump/vecpipe/internal/metrics"
	"github.com/hyperjump/vecpipe/internal/models"
	"github.com/hyperjump/vecpipe/internal/pipeline"
)

func newTestServer(t *testing.T) (*httptest.Server, index.Service) {
	t.Helper()
	svc, err := index.NewMemoryService()
	require.NoError(t, err)
	m := metrics.New()
	p, err := pipeline.New(embedding.NewHashEmbedder(16), svc, pipeline.Config{
		Schema: models.CollectionSchema{Name: "docs", Dimension: 16, Distance: models.DistanceCosine},
		TopK:   2,
		Policy: pipeline.Policy{Timeout: time.Second, MaxRetries: 1, RetryBase: time.Millisecond},
	}, pipeline.WithMetrics(m))
	require.NoError(t, err)

	cfg := config.Default()
	srv := httptest.NewServer(NewServer(p, cfg, m, nil).Router())
	t.Cleanup(srv.Close)
	return srv, svc
}

func do(t *testing.T, srv *httptest.Server, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		if s, ok := body.(string); ok {
			r = strings.NewReader(s)
		} else {
			b, err := json.Marshal(body)
			require.NoError(t, err)
			r = bytes.NewReader(b)
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, r)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func TestHandleRun(t *testing.T) {
	srv, _ := newTestServer(t)
	status, out := do(t, srv, http.MethodPost, "/api/v1/run", map[string]any{
		"documents": []map[string]any{{"text": "Some text"}, {"text": "Mofo "}, {"text": "wwW"}},
		"top_k":     1,
	})
	require.Equal(t, http.StatusOK, status, out)
	assert.Equal(t, "Done", out["state"])
	assert.Equal(t, "Created", out["collection"])
	assert.Len(t, out["record_ids"], 3)

	matches := out["matches"].([]any)
	require.Len(t, matches, 1)
	payload := matches[0].(map[string]any)["payload"].(map[string]any)
	assert.Equal(t, "Some text", payload["document"])
}

func TestHandleRun_errors(t *testing.T) {
	srv, _ := newTestServer(t)
	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"malformed body", "{", http.StatusBadRequest},
		{"query index out of range", map[string]any{"documents": []map[string]any{{"text": "a"}}, "query_index": 3}, http.StatusBadRequest},
		{"negative top_k", map[string]any{"documents": []map[string]any{{"text": "a"}}, "top_k": -1}, http.StatusBadRequest},
		{"nested metadata", map[string]any{"documents": []map[string]any{{"text": "a", "metadata": map[string]any{"x": []int{1}}}}}, http.StatusBadRequest},
		{"query vector dimension", map[string]any{"documents": []map[string]any{{"text": "a"}}, "query_vector": []float32{1, 2}}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, out := do(t, srv, http.MethodPost, "/api/v1/run", tt.body)
			assert.Equal(t, tt.status, status, out)
			assert.NotEmpty(t, out["error"])
		})
	}

	_, out := do(t, srv, http.MethodPost, "/api/v1/run", map[string]any{"documents": []map[string]any{{"text": "a"}}, "query_index": 3})
	result := out["result"].(map[string]any)
	assert.Equal(t, "Failed", result["state"])
}

func TestHandleIngestAndQuery(t *testing.T) {
	srv, svc := newTestServer(t)

	status, out := do(t, srv, http.MethodPost, "/api/v1/documents", map[string]any{
		"documents": []map[string]any{
			{"id": "a.md#0", "text": "alpha", "metadata": map[string]any{"source_path": "a.md", "n": 1}},
			{"id": "b.md#0", "text": "beta", "metadata": map[string]any{"source_path": "b.md", "n": 2.5}},
		},
	})
	require.Equal(t, http.StatusCreated, status, out)
	n, err := svc.Count(context.Background(), "docs")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	status, out = do(t, srv, http.MethodPost, "/api/v1/query", map[string]any{"text": "beta", "top_k": 1})
	require.Equal(t, http.StatusOK, status, out)
	match := out["matches"].([]any)[0].(map[string]any)
	payload := match["payload"].(map[string]any)
	assert.Equal(t, "beta", payload["document"])
	assert.Equal(t, "b.md#0", payload["source_id"])
	assert.Equal(t, 2.5, payload["n"])

	vec, err := embedding.NewHashEmbedder(16).Embed(context.Background(), "alpha")
	require.NoError(t, err)
	status, out = do(t, srv, http.MethodPost, "/api/v1/query", map[string]any{"vector": vec})
	require.Equal(t, http.StatusOK, status, out)
	assert.Len(t, out["matches"], 2, "pipeline top_k applies when top_k is omitted")

	status, _ = do(t, srv, http.MethodPost, "/api/v1/query", map[string]any{"top_k": 1})
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = do(t, srv, http.MethodPost, "/api/v1/query", map[string]any{"vector": []float32{1}})
	assert.Equal(t, http.StatusConflict, status)

	status, _ = do(t, srv, http.MethodPost, "/api/v1/documents", map[string]any{"documents": []any{}})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestHandleCollectionAndPoints(t *testing.T) {
	srv, _ := newTestServer(t)

	status, _ := do(t, srv, http.MethodGet, "/api/v1/collection", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, out := do(t, srv, http.MethodPost, "/api/v1/documents", map[string]any{
		"documents": []map[string]any{
			{"id": "n.md#0", "text": "first", "metadata": map[string]any{"source_path": "n.md"}},
			{"id": "n.md#1", "text": "second", "metadata": map[string]any{"source_path": "n.md"}},
			{"id": "t.md#0", "text": "third", "metadata": map[string]any{"source_path": "t.md"}},
		},
	})
	require.Equal(t, http.StatusCreated, status, out)

	status, out = do(t, srv, http.MethodGet, "/api/v1/collection", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "docs", out["name"])
	assert.Equal(t, 16.0, out["dimension"])
	assert.Equal(t, "Cosine", out["distance"])
	assert.Equal(t, 3.0, out["points_count"])

	status, out = do(t, srv, http.MethodGet, "/api/v1/points/n.md%231?with_vector=true", nil)
	require.Equal(t, http.StatusOK, status, out)
	assert.Equal(t, "second", out["payload"].(map[string]any)["document"])
	assert.Len(t, out["vector"], 16)

	status, _ = do(t, srv, http.MethodDelete, "/api/v1/points/n.md%231", nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = do(t, srv, http.MethodGet, "/api/v1/points/n.md%231", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, srv, http.MethodPost, "/api/v1/points/delete", map[string]any{"key": "source_path", "value": "n.md"})
	assert.Equal(t, http.StatusOK, status)
	status, _ = do(t, srv, http.MethodPost, "/api/v1/points/delete", map[string]any{"ids": []string{"t.md#0"}})
	assert.Equal(t, http.StatusOK, status)
	_, out = do(t, srv, http.MethodGet, "/api/v1/collection", nil)
	assert.Equal(t, 0.0, out["points_count"])

	status, _ = do(t, srv, http.MethodPost, "/api/v1/points/delete", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestHandleHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)
	status, out := do(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, "docs", out["collection"])

	do(t, srv, http.MethodPost, "/api/v1/run", map[string]any{"documents": []map[string]any{{"text": "a"}}})

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `vecpipe_runs_total{state="Done"} 1`)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", pipeline.ErrInvalidTopK), http.StatusBadRequest},
		{&pipeline.RunError{Err: &pipeline.PayloadEncodingError{Field: "f"}}, http.StatusBadRequest},
		{&pipeline.SchemaMismatchError{Field: "dimension"}, http.StatusConflict},
		{&pipeline.IndexQueryError{Err: index.ErrCollectionNotFound}, http.StatusNotFound},
		{&pipeline.IndexWriteError{Err: index.ErrUnavailable}, http.StatusServiceUnavailable},
		{&pipeline.RunError{Err: &pipeline.EngineError{Err: context.DeadlineExceeded}}, http.StatusGatewayTimeout},
		{&pipeline.AlignmentError{Documents: 2, Embeddings: 1}, http.StatusBadGateway},
		{&pipeline.EngineError{Err: errors.New("boom")}, http.StatusBadGateway},
		{errors.New("unknown"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}
}
