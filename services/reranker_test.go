package services

import (
	"context"
	"testing"

	"lorekeeper-platform/internal/apperrors"
	"lorekeeper-platform/internal/config"
	"lorekeeper-platform/models"
)

func rerankCandidates(n int) []models.SearchResult {
	out := make([]models.SearchResult, n)
	for i := range out {
		out[i] = models.SearchResult{Chunk: models.Chunk{ID: string(rune('a' + i)), Content: "passage"}}
	}
	return out
}

func testReranker(fake *fakeLLM) *Reranker {
	return NewReranker(&config.Config{RerankThreshold: 0.2}, fake)
}

func TestRerankOrdersByScore(t *testing.T) {
	fake := &fakeLLM{response: `[{"index":1,"score":3},{"index":2,"score":9},{"index":3,"score":6}]`}
	r := testReranker(fake)

	got, err := r.Rerank(context.Background(), "question", rerankCandidates(3))
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	ids := []string{got[0].Chunk.ID, got[1].Chunk.ID, got[2].Chunk.ID}
	if ids[0] != "b" || ids[1] != "c" || ids[2] != "a" {
		t.Errorf("order = %v", ids)
	}
	if got[0].Score != 0.9 {
		t.Errorf("top score = %f, want 0.9", got[0].Score)
	}
}

func TestRerankDropsBelowThreshold(t *testing.T) {
	fake := &fakeLLM{response: `[{"index":1,"score":8},{"index":2,"score":1}]`}
	r := testReranker(fake)

	got, err := r.Rerank(context.Background(), "question", rerankCandidates(2))
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(got) != 1 || got[0].Chunk.ID != "a" {
		t.Errorf("got %d results, want only the high scorer", len(got))
	}
}

func TestRerankStripsCodeFences(t *testing.T) {
	fake := &fakeLLM{response: "```json\n[{\"index\":1,\"score\":10},{\"index\":2,\"score\":5}]\n```"}
	r := testReranker(fake)

	got, err := r.Rerank(context.Background(), "question", rerankCandidates(2))
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d results", len(got))
	}
}

func TestRerankMalformedResponse(t *testing.T) {
	fake := &fakeLLM{response: "I think passage 2 is best."}
	r := testReranker(fake)

	_, err := r.Rerank(context.Background(), "question", rerankCandidates(2))
	if err == nil {
		t.Fatal("expected error for non-JSON response")
	}
	if apperrors.CodeOf(err) != apperrors.CodeRerankFailed {
		t.Errorf("code = %s", apperrors.CodeOf(err))
	}
}

func TestRerankIgnoresOutOfRangeIndices(t *testing.T) {
	fake := &fakeLLM{response: `[{"index":0,"score":9},{"index":1,"score":7},{"index":99,"score":10}]`}
	r := testReranker(fake)

	got, err := r.Rerank(context.Background(), "question", rerankCandidates(2))
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(got) != 1 || got[0].Chunk.ID != "a" {
		t.Errorf("got %v", got)
	}
}

func TestRerankSingleCandidateSkipsLLM(t *testing.T) {
	fake := &fakeLLM{}
	r := testReranker(fake)

	got, err := r.Rerank(context.Background(), "question", rerankCandidates(1))
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}
	if len(got) != 1 || fake.calls != 0 {
		t.Errorf("results = %d, calls = %d", len(got), fake.calls)
	}
}
