package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"lorekeeper-platform/internal/apperrors"
	"lorekeeper-platform/internal/config"
	"lorekeeper-platform/internal/llm"
	"lorekeeper-platform/models"
)

const rerankerSystemPrompt = `You score how relevant each numbered passage is to the question on a scale of 1 to 10.
Respond with a JSON array only, one object per passage: [{"index": 1, "score": 7}, ...].
Do not include any other text.`

// Reranker asks the LLM to rescore retrieval candidates. Callers may
// fall back to the input order when it fails.
type Reranker struct {
	config *config.Config
	llm    llm.Client
}

func NewReranker(cfg *config.Config, client llm.Client) *Reranker {
	return &Reranker{config: cfg, llm: client}
}

type rerankItem struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Rerank reorders candidates by LLM-judged relevance and drops those
// rescored below the configured threshold.
func (r *Reranker) Rerank(ctx context.Context, question string, candidates []models.SearchResult) ([]models.SearchResult, error) {
	if len(candidates) <= 1 {
		return candidates, nil
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Question: %s\n\nPassages:\n", question)
	for i, c := range candidates {
		fmt.Fprintf(&prompt, "[%d] %s\n\n", i+1, c.Chunk.Content)
	}

	resp, err := r.llm.Generate(ctx, prompt.String(), llm.Options{
		Temperature:    0.1,
		TemperatureSet: true,
		System:         rerankerSystemPrompt,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeRerankFailed, "rerank call failed", err)
	}

	items, err := parseRerankResponse(resp.Content)
	if err != nil {
		return nil, err
	}

	threshold := r.config.RerankThreshold
	type rescored struct {
		result models.SearchResult
		score  float64
	}
	kept := make([]rescored, 0, len(candidates))
	for _, item := range items {
		if item.Index < 1 || item.Index > len(candidates) {
			continue
		}
		score := item.Score / 10
		if score < threshold {
			continue
		}
		result := candidates[item.Index-1]
		result.Score = score
		kept = append(kept, rescored{result: result, score: score})
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].score > kept[j].score })

	out := make([]models.SearchResult, 0, len(kept))
	for _, k := range kept {
		out = append(out, k.result)
	}
	return out, nil
}

// parseRerankResponse tolerates markdown fencing around the JSON array
// but rejects anything that does not decode to an array of items.
func parseRerankResponse(raw string) ([]rerankItem, error) {
	cleaned := stripCodeFences(raw)

	var items []rerankItem
	if err := json.Unmarshal([]byte(cleaned), &items); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeRerankFailed, "model returned malformed scores", err)
	}
	return items, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
