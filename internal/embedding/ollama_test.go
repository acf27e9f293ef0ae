package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newOllamaServer(t *testing.T, dims int, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if status != http.StatusOK {
			http.Error(w, "model not found", status)
			return
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := ollamaEmbedResponse{}
		for i := range req.Input {
			v := make([]float64, dims)
			v[0] = float64(i + 1)
			resp.Embeddings = append(resp.Embeddings, v)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestOllamaEmbedder_EmbedBatch(t *testing.T) {
	srv := newOllamaServer(t, 4, http.StatusOK)
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL+"/", "all-minilm", 4, time.Second)
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors", len(vecs))
	}
	for i, v := range vecs {
		if len(v) != 4 || v[0] != float32(i+1) {
			t.Errorf("vector %d = %v", i, v)
		}
	}
	single, err := e.Embed(context.Background(), "x")
	if err != nil || len(single) != 4 {
		t.Errorf("Embed: %v, %v", single, err)
	}
}

func TestOllamaEmbedder_errors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		srv := newOllamaServer(t, 4, http.StatusNotFound)
		defer srv.Close()
		if _, err := NewOllamaEmbedder(srv.URL, "m", 4, time.Second).EmbedBatch(context.Background(), []string{"a"}); err == nil {
			t.Error("expected error for non-200 status")
		}
	})
	t.Run("dimension", func(t *testing.T) {
		srv := newOllamaServer(t, 8, http.StatusOK)
		defer srv.Close()
		if _, err := NewOllamaEmbedder(srv.URL, "m", 4, time.Second).EmbedBatch(context.Background(), []string{"a"}); err == nil {
			t.Error("expected error for wrong dimension")
		}
	})
	t.Run("empty", func(t *testing.T) {
		vecs, err := NewOllamaEmbedder("http://127.0.0.1:1", "m", 4, time.Second).EmbedBatch(context.Background(), nil)
		if err != nil || len(vecs) != 0 {
			t.Errorf("empty batch: %v, %v", vecs, err)
		}
	})
}
