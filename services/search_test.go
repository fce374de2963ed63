package services

import (
	"math"
	"testing"

	"lorekeeper-platform/models"
)

func sc(id string, index int, score float64) scoredChunk {
	return scoredChunk{
		Chunk: models.Chunk{ID: id, ChunkIndex: index, Content: "chunk " + id},
		Score: score,
	}
}

func TestFuseResultsWeightedSum(t *testing.T) {
	vector := []scoredChunk{sc("a", 0, 0.9)}
	keyword := []scoredChunk{sc("a", 0, 0.5)}

	results := fuseResults(vector, keyword, 0.7, 0.3, 8)
	if len(results) != 1 {
		t.Fatalf("got %d results", len(results))
	}
	want := 0.7*0.9 + 0.3*0.5
	if math.Abs(results[0].Score-want) > 1e-9 {
		t.Errorf("score = %f, want %f", results[0].Score, want)
	}
	if results[0].VectorScore != 0.9 || results[0].KeywordScore != 0.5 {
		t.Errorf("component scores = %f / %f", results[0].VectorScore, results[0].KeywordScore)
	}
}

func TestFuseResultsDeduplicatesKeepingMax(t *testing.T) {
	vector := []scoredChunk{sc("a", 0, 0.4), sc("a", 0, 0.8)}
	keyword := []scoredChunk{sc("a", 0, 0.2), sc("a", 0, 0.6)}

	results := fuseResults(vector, keyword, 0.7, 0.3, 8)
	if len(results) != 1 {
		t.Fatalf("duplicate chunk not merged, got %d results", len(results))
	}
	if results[0].VectorScore != 0.8 {
		t.Errorf("vectorScore = %f, want max 0.8", results[0].VectorScore)
	}
	if results[0].KeywordScore != 0.6 {
		t.Errorf("keywordScore = %f, want max 0.6", results[0].KeywordScore)
	}
}

func TestFuseResultsSingleLegChunks(t *testing.T) {
	vector := []scoredChunk{sc("vec-only", 0, 1.0)}
	keyword := []scoredChunk{sc("kw-only", 1, 1.0)}

	results := fuseResults(vector, keyword, 0.7, 0.3, 8)
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].Chunk.ID != "vec-only" {
		t.Errorf("first = %s; the vector-weighted chunk should rank higher", results[0].Chunk.ID)
	}
	if results[0].Score != 0.7 || results[1].Score != 0.3 {
		t.Errorf("scores = %f / %f", results[0].Score, results[1].Score)
	}
}

func TestFuseResultsTieBreaks(t *testing.T) {
	// Equal fused score, different vector contribution.
	a := scoredChunk{Chunk: models.Chunk{ID: "a", ChunkIndex: 3}, Score: 0.6}
	b := scoredChunk{Chunk: models.Chunk{ID: "b", ChunkIndex: 5}, Score: 0.6}

	results := fuseResults([]scoredChunk{a}, []scoredChunk{b}, 0.5, 0.5, 8)
	if results[0].Chunk.ID != "a" {
		t.Errorf("tie should favour the higher vector score, got %s first", results[0].Chunk.ID)
	}

	// Fully equal scores: later chunk index wins.
	c := scoredChunk{Chunk: models.Chunk{ID: "c", ChunkIndex: 2}, Score: 0.6}
	d := scoredChunk{Chunk: models.Chunk{ID: "d", ChunkIndex: 9}, Score: 0.6}
	results = fuseResults([]scoredChunk{c, d}, nil, 0.7, 0.3, 8)
	if results[0].Chunk.ID != "d" {
		t.Errorf("equal scores should favour the later chunk index, got %s first", results[0].Chunk.ID)
	}
}

func TestFuseResultsAppliesLimit(t *testing.T) {
	var vector []scoredChunk
	for i := 0; i < 20; i++ {
		vector = append(vector, sc(string(rune('a'+i)), i, float64(i)/20))
	}
	results := fuseResults(vector, nil, 0.7, 0.3, 8)
	if len(results) != 8 {
		t.Fatalf("limit not applied, got %d results", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not sorted descending at %d", i)
		}
	}
}

func TestIntersect(t *testing.T) {
	got := intersect([]string{"a", "b", "c"}, []string{"c", "d", "a"})
	if len(got) != 2 {
		t.Fatalf("intersection = %v", got)
	}
	if got[0] != "c" || got[1] != "a" {
		t.Errorf("intersection = %v, expected order of second argument", got)
	}
	if r := intersect([]string{"a"}, []string{"x"}); len(r) != 0 {
		t.Errorf("disjoint sets should intersect empty, got %v", r)
	}
}
