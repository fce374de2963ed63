package services

import (
	"fmt"
	"strings"
	"testing"

	"lorekeeper-platform/internal/config"
	"lorekeeper-platform/models"
)

func testContextBuilder() *ContextBuilder {
	return NewContextBuilder(&config.Config{ContextMaxTokens: 3000, AdaptiveRatio: 0.4})
}

func searchResult(id, docName, content string, score float64) models.SearchResult {
	return models.SearchResult{
		Chunk:    models.Chunk{ID: id, DocumentID: "doc-" + id, Content: content},
		Document: models.Document{ID: "doc-" + id, Name: docName, DocumentType: models.DocTypeRulebook},
		Score:    score,
	}
}

func TestBuildFormatsHeaders(t *testing.T) {
	b := testContextBuilder()
	page := 7
	section := "Dragon Lairs"
	result := models.SearchResult{
		Chunk: models.Chunk{
			ID: "c1", DocumentID: "d1",
			Content:    "Dragons fear cold iron.",
			PageNumber: &page,
			Section:    &section,
		},
		Document: models.Document{ID: "d1", Name: "manual.pdf"},
		Score:    0.88,
	}

	built := b.Build([]models.SearchResult{result}, ContextBuilderOptions{})
	want := "[1] manual.pdf - Dragon Lairs (p. 7)\nDragons fear cold iron."
	if built.ContextText != want {
		t.Errorf("contextText = %q, want %q", built.ContextText, want)
	}
	if built.ChunksUsed != 1 || len(built.Sources) != 1 {
		t.Errorf("chunksUsed = %d, sources = %d", built.ChunksUsed, len(built.Sources))
	}
	src := built.Sources[0]
	if src.CitationIndex != 1 || src.DocumentName != "manual.pdf" || src.RelevanceScore != 0.88 {
		t.Errorf("source = %+v", src)
	}
}

func TestBuildCitationIndicesContiguous(t *testing.T) {
	b := testContextBuilder()
	results := []models.SearchResult{
		searchResult("a", "one.pdf", "top result", 1.0),
		searchResult("b", "two.pdf", "filtered out by adaptive floor", 0.1),
		searchResult("c", "three.pdf", "second kept result", 0.9),
	}

	built := b.Build(results, ContextBuilderOptions{AdaptiveRatio: 0.4})
	if built.ChunksUsed != 2 {
		t.Fatalf("chunksUsed = %d, want 2", built.ChunksUsed)
	}
	for i, src := range built.Sources {
		if src.CitationIndex != i+1 {
			t.Errorf("source %d citation = %d, want %d", i, src.CitationIndex, i+1)
		}
	}
	if !strings.Contains(built.ContextText, "[2] three.pdf") {
		t.Errorf("skipped entry broke numbering:\n%s", built.ContextText)
	}
	if strings.Contains(built.ContextText, "two.pdf") {
		t.Error("low-score entry appeared in context")
	}
}

func TestBuildAdaptiveFloor(t *testing.T) {
	b := testContextBuilder()
	results := []models.SearchResult{
		searchResult("a", "one.pdf", "score 0.9", 0.9),
		searchResult("b", "two.pdf", "score 0.3", 0.3),
	}

	// topScore*adaptiveRatio = 0.45 beats the absolute floor of 0.
	built := b.Build(results, ContextBuilderOptions{MinRelevanceScore: 0, AdaptiveRatio: 0.5})
	if built.ChunksUsed != 1 {
		t.Errorf("chunksUsed = %d, want 1", built.ChunksUsed)
	}
	for _, src := range built.Sources {
		if src.RelevanceScore < 0.45 {
			t.Errorf("source below adaptive floor: %f", src.RelevanceScore)
		}
	}
}

func TestBuildRespectsTokenBudget(t *testing.T) {
	b := testContextBuilder()
	var results []models.SearchResult
	for i := 0; i < 10; i++ {
		content := strings.Repeat("lore ", 100)
		results = append(results, searchResult(fmt.Sprintf("c%d", i), "book.pdf", content, 0.9))
	}

	maxTokens := 400
	built := b.Build(results, ContextBuilderOptions{MaxTokens: maxTokens})
	if built.EstimatedTokens > maxTokens {
		t.Errorf("estimatedTokens = %d exceeds budget %d", built.EstimatedTokens, maxTokens)
	}
	if built.ChunksUsed == 0 {
		t.Error("budget should fit at least one entry")
	}
	if built.ChunksUsed == len(results) {
		t.Error("budget failed to truncate")
	}
	if len(built.Sources) != built.ChunksUsed {
		t.Errorf("sources = %d, chunksUsed = %d", len(built.Sources), built.ChunksUsed)
	}
}

func TestBuildBudgetBelowOneChunk(t *testing.T) {
	b := testContextBuilder()
	results := []models.SearchResult{
		searchResult("a", "book.pdf", strings.Repeat("text ", 100), 0.9),
	}

	built := b.Build(results, ContextBuilderOptions{MaxTokens: 10})
	if built.ChunksUsed != 0 || built.ContextText != "" || len(built.Sources) != 0 {
		t.Errorf("built = %+v, want empty context", built)
	}
}

func TestBuildEmptyResults(t *testing.T) {
	b := testContextBuilder()
	built := b.Build(nil, ContextBuilderOptions{})
	if built.ChunksUsed != 0 || built.ContextText != "" {
		t.Errorf("built = %+v", built)
	}
	if built.Sources == nil {
		t.Error("sources should be an empty slice, not nil")
	}
}
