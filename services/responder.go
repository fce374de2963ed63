package services

import (
	"context"
	"fmt"
	"strings"

	"lorekeeper-platform/internal/apperrors"
	"lorekeeper-platform/internal/llm"
	"lorekeeper-platform/models"
)

const answerSystemPrompt = `You are a campaign lorekeeper. Answer strictly from the supplied source passages.
Quote numeric and mechanical values verbatim from the sources.
Cite sources using bracketed markers like [1] that match the numbered passages.
If the sources do not contain the answer, begin with "I don't have enough information" and describe what is missing.
If sources conflict, present both and cite each.`

const maxHistoryMessages = 10

// Phrases that mark an answer as grounded in nothing. Matching is
// case-insensitive substring.
var unanswerablePhrases = []string{
	"i don't have enough information",
	"i do not have enough information",
	"not mentioned in",
	"no information about",
	"not found in the",
	"cannot find",
	"no relevant context",
	"cannot answer this question",
}

// GeneratedAnswer is the response generator output.
type GeneratedAnswer struct {
	Answer         string
	Confidence     float64
	Sources        []models.ContextSource
	IsUnanswerable bool
	Usage          *models.TokenUsage
}

// ResponseGenerator prompts the LLM with built context and scores the
// answer's confidence.
type ResponseGenerator struct {
	llm llm.Client
}

func NewResponseGenerator(client llm.Client) *ResponseGenerator {
	return &ResponseGenerator{llm: client}
}

func (g *ResponseGenerator) Generate(ctx context.Context, question string, built *models.BuiltContext, history []models.Message) (*GeneratedAnswer, error) {
	messages := make([]llm.Message, 0, maxHistoryMessages+1)
	if len(history) > maxHistoryMessages {
		history = history[len(history)-maxHistoryMessages:]
	}
	for _, m := range history {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{
		Role:    models.RoleUser,
		Content: buildUserMessage(question, built),
	})

	resp, err := g.llm.Chat(ctx, messages, llm.Options{
		Temperature:    0,
		TemperatureSet: true,
		System:         answerSystemPrompt,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeGenerationFailed, "answer generation failed", err)
	}

	answer := strings.TrimSpace(resp.Content)
	unanswerable := isUnanswerable(answer)

	return &GeneratedAnswer{
		Answer:         answer,
		Confidence:     scoreConfidence(built.Sources, unanswerable),
		Sources:        built.Sources,
		IsUnanswerable: unanswerable,
		Usage:          resp.Usage,
	}, nil
}

func buildUserMessage(question string, built *models.BuiltContext) string {
	var msg strings.Builder
	if built == nil || built.ChunksUsed == 0 {
		msg.WriteString("No relevant context was found in the campaign documents.\n\n")
	} else {
		msg.WriteString("Source passages:\n\n")
		msg.WriteString(built.ContextText)
		msg.WriteString("\n\nSource legend:\n")
		for _, src := range built.Sources {
			fmt.Fprintf(&msg, "[%d] %s", src.CitationIndex, src.DocumentName)
			if src.Section != nil && *src.Section != "" {
				fmt.Fprintf(&msg, " - %s", *src.Section)
			}
			if src.PageNumber != nil {
				fmt.Fprintf(&msg, " (p. %d)", *src.PageNumber)
			}
			msg.WriteString("\n")
		}
		msg.WriteString("\n")
	}
	fmt.Fprintf(&msg, "Question: %s", question)
	return msg.String()
}

func isUnanswerable(answer string) bool {
	lower := strings.ToLower(answer)
	for _, phrase := range unanswerablePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// scoreConfidence derives a [0,1] score from source quality. The top
// source dominates, average relevance and source count contribute
// smaller terms.
func scoreConfidence(sources []models.ContextSource, unanswerable bool) float64 {
	if len(sources) == 0 {
		return 0.1
	}
	if unanswerable {
		return 0.15
	}

	top := sources[0].RelevanceScore
	sum := 0.0
	for _, src := range sources {
		sum += src.RelevanceScore
	}
	avg := sum / float64(len(sources))

	extra := float64(len(sources) - 1)
	if extra > 3 {
		extra = 3
	}

	score := top*0.5 + avg*0.3 + extra*0.05 + 0.05
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
