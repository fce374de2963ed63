// Package llm provides a provider-agnostic chat/generate/stream
// abstraction. Two providers are supplied: a local Ollama-style HTTP
// JSON provider (NDJSON streaming) and the Gemini cloud SDK provider.
package llm

import (
	"context"
	"errors"
	"fmt"

	"lorekeeper-platform/internal/apperrors"
	"lorekeeper-platform/internal/config"
	"lorekeeper-platform/internal/telemetry"
	"lorekeeper-platform/models"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tune a single generate/chat call. Zero values leave the
// provider defaults in place (a zero temperature is explicit: pass
// TemperatureSet=true to pin temperature 0 for determinism).
type Options struct {
	Temperature    float32
	TemperatureSet bool
	MaxTokens      int
	System         string
}

// Response is a completed generation.
type Response struct {
	Content string
	Usage   *models.TokenUsage
}

// StreamChunk is one incremental piece of a streamed generation. The
// final chunk has Done=true and may carry Usage. Err is set instead of
// Content when the stream failed mid-flight.
type StreamChunk struct {
	Content string
	Done    bool
	Usage   *models.TokenUsage
	Err     error
}

// Client is the provider contract. Streams honour ctx: cancelling the
// context aborts the underlying HTTP request and closes the channel.
type Client interface {
	Generate(ctx context.Context, prompt string, opts Options) (*Response, error)
	GenerateStream(ctx context.Context, prompt string, opts Options) (<-chan StreamChunk, error)
	Chat(ctx context.Context, messages []Message, opts Options) (*Response, error)
	ChatStream(ctx context.Context, messages []Message, opts Options) (<-chan StreamChunk, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// ErrEmptyResponse is returned when a provider produced no candidates.
var ErrEmptyResponse = errors.New("llm: empty response")

// wrapProviderErr tags provider failures with the shared taxonomy so
// callers can branch on code rather than provider-specific errors.
func wrapProviderErr(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.CodeCancelled, fmt.Sprintf("%s call aborted", provider), err)
	}
	return apperrors.Wrap(apperrors.CodeLLMError, fmt.Sprintf("%s call failed", provider), err)
}

// NewClient builds the configured provider. metrics may be nil; only
// the Gemini provider reports breaker state through it.
func NewClient(cfg *config.Config, metrics *telemetry.Metrics) (Client, error) {
	switch cfg.LLMProvider {
	case "gemini":
		return NewGeminiClient(cfg, metrics)
	case "ollama", "":
		return NewOllamaClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.LLMProvider)
	}
}
