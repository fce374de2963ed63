package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"

	"lorekeeper-platform/internal/config"
	"lorekeeper-platform/internal/logger"
	"lorekeeper-platform/internal/telemetry"
	"lorekeeper-platform/models"
)

// GeminiClient is the cloud SDK provider. Calls run through a circuit
// breaker and a client-side rate limiter sized for the configured tier.
type GeminiClient struct {
	client      *genai.Client
	model       string
	breaker     *gobreaker.CircuitBreaker
	rateLimiter *rate.Limiter
	timeout     time.Duration
}

// RateLimits mirror the published per-tier Gemini quotas.
type RateLimits struct {
	RPM int
	TPM int
	RPD int
}

func getRateLimits(tier string) RateLimits {
	switch tier {
	case "tier1":
		return RateLimits{RPM: 1000, TPM: 1000000, RPD: 10000}
	case "tier2":
		return RateLimits{RPM: 2000, TPM: 4000000, RPD: 50000}
	default: // free
		return RateLimits{RPM: 10, TPM: 250000, RPD: 250}
	}
}

func NewGeminiClient(cfg *config.Config, metrics *telemetry.Metrics) (*GeminiClient, error) {
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, err
	}

	limits := getRateLimits(cfg.GeminiTier)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GeminiAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
			if metrics != nil {
				metrics.RecordCircuitBreakerState(name, to.String())
			}
		},
	})

	// RPM limit with some buffer
	rateLimiter := rate.NewLimiter(rate.Limit(float64(limits.RPM)*0.9/60.0), limits.RPM/10+1)

	timeout := time.Duration(cfg.LLMTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &GeminiClient{
		client:      client,
		model:       cfg.GeminiModel,
		breaker:     breaker,
		rateLimiter: rateLimiter,
		timeout:     timeout,
	}, nil
}

func (gc *GeminiClient) prepareModel(opts Options) *genai.GenerativeModel {
	model := gc.client.GenerativeModel(gc.model)
	if opts.TemperatureSet {
		model.SetTemperature(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(opts.MaxTokens))
	}
	if opts.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(opts.System)}}
	}
	return model
}

func (gc *GeminiClient) Chat(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	tracer := otel.Tracer("gemini-client")
	ctx, span := tracer.Start(ctx, "gemini.chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("gemini.model", gc.model),
		attribute.Int("gemini.history_len", len(messages)),
	)

	if err := gc.rateLimiter.Wait(ctx); err != nil {
		return nil, wrapProviderErr("gemini", err)
	}

	ctx, cancel := context.WithTimeout(ctx, gc.timeout)
	defer cancel()

	result, err := gc.breaker.Execute(func() (interface{}, error) {
		model := gc.prepareModel(opts)
		session := model.StartChat()
		history, last := splitHistory(messages)
		session.History = history
		return session.SendMessage(ctx, genai.Text(last))
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			span.SetAttributes(attribute.Bool("gemini.circuit_breaker_open", true))
		}
		span.SetAttributes(attribute.Bool("gemini.error", true))
		return nil, wrapProviderErr("gemini", err)
	}

	return responseFromGenai(result.(*genai.GenerateContentResponse))
}

func (gc *GeminiClient) Generate(ctx context.Context, prompt string, opts Options) (*Response, error) {
	return gc.Chat(ctx, []Message{{Role: models.RoleUser, Content: prompt}}, opts)
}

func (gc *GeminiClient) ChatStream(ctx context.Context, messages []Message, opts Options) (<-chan StreamChunk, error) {
	tracer := otel.Tracer("gemini-client")
	ctx, span := tracer.Start(ctx, "gemini.chat_stream")
	span.SetAttributes(attribute.String("gemini.model", gc.model))

	if err := gc.rateLimiter.Wait(ctx); err != nil {
		span.End()
		return nil, wrapProviderErr("gemini", err)
	}

	model := gc.prepareModel(opts)
	session := model.StartChat()
	history, last := splitHistory(messages)
	session.History = history
	iter := session.SendMessageStream(ctx, genai.Text(last))

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer span.End()
		var usage *models.TokenUsage
		for {
			resp, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				select {
				case out <- StreamChunk{Done: true, Usage: usage}:
				case <-ctx.Done():
				}
				return
			}
			if err != nil {
				span.SetAttributes(attribute.Bool("gemini.error", true))
				select {
				case out <- StreamChunk{Err: wrapProviderErr("gemini", err)}:
				case <-ctx.Done():
				}
				return
			}
			if resp.UsageMetadata != nil {
				usage = &models.TokenUsage{
					PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
					CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				}
			}
			select {
			case out <- StreamChunk{Content: textOf(resp)}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (gc *GeminiClient) GenerateStream(ctx context.Context, prompt string, opts Options) (<-chan StreamChunk, error) {
	return gc.ChatStream(ctx, []Message{{Role: models.RoleUser, Content: prompt}}, opts)
}

func (gc *GeminiClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	// Token counting is the cheapest authenticated round trip.
	model := gc.client.GenerativeModel(gc.model)
	_, err := model.CountTokens(ctx, genai.Text("ping"))
	return wrapProviderErr("gemini", err)
}

func (gc *GeminiClient) Close() error {
	if gc.client != nil {
		return gc.client.Close()
	}
	return nil
}

// splitHistory converts messages to genai history plus the final user
// turn. Gemini uses "model" for assistant turns; system turns are
// carried via SystemInstruction, so any stray ones are folded into
// user content.
func splitHistory(messages []Message) ([]*genai.Content, string) {
	if len(messages) == 0 {
		return nil, ""
	}
	last := messages[len(messages)-1].Content
	history := make([]*genai.Content, 0, len(messages)-1)
	for _, m := range messages[:len(messages)-1] {
		role := "user"
		if m.Role == models.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}
	return history, last
}

func responseFromGenai(resp *genai.GenerateContentResponse) (*Response, error) {
	text := textOf(resp)
	if text == "" {
		return nil, wrapProviderErr("gemini", ErrEmptyResponse)
	}
	var usage *models.TokenUsage
	if resp.UsageMetadata != nil {
		usage = &models.TokenUsage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return &Response{Content: text, Usage: usage}, nil
}

func textOf(resp *genai.GenerateContentResponse) string {
	out := ""
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				out += string(text)
			}
		}
	}
	return out
}
