package services

import (
	"context"
	"strings"
	"time"

	"lorekeeper-platform/internal/llm"
	"lorekeeper-platform/models"
)

const rewriterSystemPrompt = `You rewrite the latest user message in a conversation into a standalone search query.
Preserve proper names, places and other specifics mentioned earlier in the conversation.
Output only the rewritten query, nothing else.`

const rewriteTimeout = 15 * time.Second

// QueryRewriter collapses conversational follow-ups into standalone
// queries. Failures are non-fatal: the original question comes back.
type QueryRewriter struct {
	llm llm.Client
}

func NewQueryRewriter(client llm.Client) *QueryRewriter {
	return &QueryRewriter{llm: client}
}

func (r *QueryRewriter) Rewrite(ctx context.Context, question string, history []models.Message) string {
	if len(history) == 0 {
		return question
	}

	ctx, cancel := context.WithTimeout(ctx, rewriteTimeout)
	defer cancel()

	messages := make([]llm.Message, 0, len(history)+1)
	for _, m := range history {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: models.RoleUser, Content: question})

	resp, err := r.llm.Chat(ctx, messages, llm.Options{
		Temperature:    0.1,
		TemperatureSet: true,
		MaxTokens:      200,
		System:         rewriterSystemPrompt,
	})
	if err != nil {
		return question
	}

	rewritten := strings.TrimSpace(resp.Content)
	if rewritten == "" {
		return question
	}
	return rewritten
}
