package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lorekeeper-platform/internal/apperrors"
	"lorekeeper-platform/models"
)

func testVector(seed float32) []float32 {
	v := make([]float32, models.EmbeddingDimensions)
	for i := range v {
		v[i] = seed
	}
	return v
}

func newTestEmbedder(t *testing.T, handler http.HandlerFunc) *httpEmbedder {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &httpEmbedder{
		baseURL:    srv.URL,
		model:      "test-embed",
		batchSize:  20,
		timeout:    5 * time.Second,
		httpClient: srv.Client(),
	}
}

func TestEmbedBatchEmpty(t *testing.T) {
	called := false
	e := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	vectors, err := e.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vectors) != 0 {
		t.Errorf("got %d vectors for empty input", len(vectors))
	}
	if called {
		t.Error("empty batch must not hit the endpoint")
	}
}

func TestEmbedBatchSplitsRequests(t *testing.T) {
	var batchSizes []int
	e := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "test-embed" {
			t.Errorf("model = %q", req.Model)
		}
		batchSizes = append(batchSizes, len(req.Input))
		resp := embedResponse{}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, testVector(0.5))
		}
		json.NewEncoder(w).Encode(resp)
	})
	e.batchSize = 20

	texts := make([]string, 45)
	for i := range texts {
		texts[i] = "chunk"
	}
	vectors, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vectors) != 45 {
		t.Fatalf("got %d vectors, want 45", len(vectors))
	}
	want := []int{20, 20, 5}
	if len(batchSizes) != len(want) {
		t.Fatalf("batch sizes = %v, want %v", batchSizes, want)
	}
	for i, n := range want {
		if batchSizes[i] != n {
			t.Errorf("batch %d size = %d, want %d", i, batchSizes[i], n)
		}
	}
}

func TestEmbedBatchDimensionMismatch(t *testing.T) {
	e := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{0.1, 0.2, 0.3}}})
	})

	_, err := e.EmbedBatch(context.Background(), []string{"short vector"})
	if err == nil {
		t.Fatal("expected dimension error")
	}
	if apperrors.CodeOf(err) != apperrors.CodeEmbeddingFailed {
		t.Errorf("code = %s, want %s", apperrors.CodeOf(err), apperrors.CodeEmbeddingFailed)
	}
}

func TestEmbedBatchServerError(t *testing.T) {
	e := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	_, err := e.EmbedQuery(context.Background(), "q")
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
	if apperrors.CodeOf(err) != apperrors.CodeEmbeddingFailed {
		t.Errorf("code = %s", apperrors.CodeOf(err))
	}
	if !apperrors.IsRetryable(err) {
		t.Error("embedding failures should be retryable")
	}
}
