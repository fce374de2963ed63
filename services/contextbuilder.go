package services

import (
	"fmt"
	"strings"

	"lorekeeper-platform/internal/config"
	"lorekeeper-platform/models"
)

const contextSeparator = "\n\n---\n\n"

// ContextBuilderOptions bound one context assembly.
type ContextBuilderOptions struct {
	MaxTokens         int
	MinRelevanceScore float64
	AdaptiveRatio     float64
}

// ContextBuilder assembles retrieval results into a prompt context
// under a token budget.
type ContextBuilder struct {
	config *config.Config
}

func NewContextBuilder(cfg *config.Config) *ContextBuilder {
	return &ContextBuilder{config: cfg}
}

// Build formats results into numbered context entries. The relevance
// floor adapts to the best result: entries below
// max(minRelevanceScore, topScore*adaptiveRatio) are skipped without
// consuming a citation index, so indices stay contiguous from 1.
func (b *ContextBuilder) Build(results []models.SearchResult, opts ContextBuilderOptions) *models.BuiltContext {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = b.config.ContextMaxTokens
	}
	if opts.AdaptiveRatio <= 0 {
		opts.AdaptiveRatio = b.config.AdaptiveRatio
	}

	built := &models.BuiltContext{Sources: []models.ContextSource{}}
	if len(results) == 0 {
		return built
	}

	minScore := opts.MinRelevanceScore
	if adaptive := results[0].Score * opts.AdaptiveRatio; adaptive > minScore {
		minScore = adaptive
	}

	var text strings.Builder
	tokens := 0
	citation := 0

	for _, result := range results {
		if result.Score < minScore {
			continue
		}

		entry := formatContextEntry(citation+1, result)
		entryTokens := EstimateTokens(entry)
		if citation > 0 {
			entryTokens += EstimateTokens(contextSeparator)
		}
		if tokens+entryTokens > opts.MaxTokens {
			break
		}

		if citation > 0 {
			text.WriteString(contextSeparator)
		}
		text.WriteString(entry)
		tokens += entryTokens
		citation++

		built.Sources = append(built.Sources, models.ContextSource{
			CitationIndex:  citation,
			DocumentID:     result.Chunk.DocumentID,
			DocumentName:   result.Document.Name,
			DocumentType:   result.Document.DocumentType,
			PageNumber:     result.Chunk.PageNumber,
			Section:        result.Chunk.Section,
			RelevanceScore: result.Score,
		})
	}

	built.ContextText = text.String()
	built.ChunksUsed = citation
	built.EstimatedTokens = tokens
	return built
}

// formatContextEntry renders "[i] name - section (p. N)" above the
// chunk content.
func formatContextEntry(index int, result models.SearchResult) string {
	var header strings.Builder
	fmt.Fprintf(&header, "[%d] %s", index, result.Document.Name)
	if result.Chunk.Section != nil && *result.Chunk.Section != "" {
		fmt.Fprintf(&header, " - %s", *result.Chunk.Section)
	}
	if result.Chunk.PageNumber != nil {
		fmt.Fprintf(&header, " (p. %d)", *result.Chunk.PageNumber)
	}
	return header.String() + "\n" + result.Chunk.Content
}
