package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"lorekeeper-platform/internal/config"
	"lorekeeper-platform/models"
)

// OllamaClient talks to a local Ollama-compatible server. Streaming
// responses arrive as NDJSON frames, one JSON object per line.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	timeout    time.Duration
}

func NewOllamaClient(cfg *config.Config) *OllamaClient {
	timeout := time.Duration(cfg.LLMTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OllamaClient{
		baseURL: strings.TrimRight(cfg.OllamaBaseURL, "/"),
		model:   cfg.OllamaModel,
		// No client-level timeout: streams can be long-lived, so each
		// call scopes its own deadline on the non-streaming paths.
		httpClient: &http.Client{},
		timeout:    timeout,
	}
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaFrame struct {
	Message         ollamaMessage `json:"message"`
	Response        string        `json:"response"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error"`
}

func (c *OllamaClient) options(opts Options) map[string]any {
	m := map[string]any{}
	if opts.TemperatureSet {
		m["temperature"] = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		m["num_predict"] = opts.MaxTokens
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func (c *OllamaClient) Chat(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	if opts.System != "" {
		messages = append([]Message{{Role: models.RoleSystem, Content: opts.System}}, messages...)
	}
	body := ollamaChatRequest{Model: c.model, Messages: messages, Stream: false, Options: c.options(opts)}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	frame, err := c.post(ctx, "/api/chat", body)
	if err != nil {
		return nil, err
	}
	if frame.Message.Content == "" {
		return nil, wrapProviderErr("ollama", ErrEmptyResponse)
	}
	return &Response{Content: frame.Message.Content, Usage: frameUsage(frame)}, nil
}

func (c *OllamaClient) Generate(ctx context.Context, prompt string, opts Options) (*Response, error) {
	body := ollamaGenerateRequest{Model: c.model, Prompt: prompt, System: opts.System, Stream: false, Options: c.options(opts)}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	frame, err := c.post(ctx, "/api/generate", body)
	if err != nil {
		return nil, err
	}
	if frame.Response == "" {
		return nil, wrapProviderErr("ollama", ErrEmptyResponse)
	}
	return &Response{Content: frame.Response, Usage: frameUsage(frame)}, nil
}

func (c *OllamaClient) ChatStream(ctx context.Context, messages []Message, opts Options) (<-chan StreamChunk, error) {
	if opts.System != "" {
		messages = append([]Message{{Role: models.RoleSystem, Content: opts.System}}, messages...)
	}
	body := ollamaChatRequest{Model: c.model, Messages: messages, Stream: true, Options: c.options(opts)}
	return c.stream(ctx, "/api/chat", body, func(f *ollamaFrame) string { return f.Message.Content })
}

func (c *OllamaClient) GenerateStream(ctx context.Context, prompt string, opts Options) (<-chan StreamChunk, error) {
	body := ollamaGenerateRequest{Model: c.model, Prompt: prompt, System: opts.System, Stream: true, Options: c.options(opts)}
	return c.stream(ctx, "/api/generate", body, func(f *ollamaFrame) string { return f.Response })
}

func (c *OllamaClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return wrapProviderErr("ollama", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return wrapProviderErr("ollama", fmt.Errorf("health check status %d", resp.StatusCode))
	}
	return nil
}

func (c *OllamaClient) Close() error { return nil }

func (c *OllamaClient) post(ctx context.Context, path string, body any) (*ollamaFrame, error) {
	resp, err := c.do(ctx, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var frame ollamaFrame
	if err := json.NewDecoder(resp.Body).Decode(&frame); err != nil {
		return nil, wrapProviderErr("ollama", fmt.Errorf("decode response: %w", err))
	}
	if frame.Error != "" {
		return nil, wrapProviderErr("ollama", fmt.Errorf("server error: %s", frame.Error))
	}
	return &frame, nil
}

// stream launches the request and feeds parsed NDJSON frames into a
// channel. The reader goroutine exits when the frame stream ends, an
// error occurs, or ctx is cancelled, which also aborts the request.
func (c *OllamaClient) stream(ctx context.Context, path string, body any, content func(*ollamaFrame) string) (<-chan StreamChunk, error) {
	resp, err := c.do(ctx, path, body)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var frame ollamaFrame
			if err := json.Unmarshal(line, &frame); err != nil {
				c.emit(ctx, out, StreamChunk{Err: wrapProviderErr("ollama", fmt.Errorf("decode frame: %w", err))})
				return
			}
			if frame.Error != "" {
				c.emit(ctx, out, StreamChunk{Err: wrapProviderErr("ollama", fmt.Errorf("server error: %s", frame.Error))})
				return
			}
			if frame.Done {
				c.emit(ctx, out, StreamChunk{Done: true, Usage: frameUsage(&frame)})
				return
			}
			if !c.emit(ctx, out, StreamChunk{Content: content(&frame)}) {
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			c.emit(ctx, out, StreamChunk{Err: wrapProviderErr("ollama", err)})
		}
	}()
	return out, nil
}

// emit sends unless the consumer has gone away.
func (c *OllamaClient) emit(ctx context.Context, out chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *OllamaClient) do(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, wrapProviderErr("ollama", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, wrapProviderErr("ollama", fmt.Errorf("status %d from %s", resp.StatusCode, path))
	}
	return resp, nil
}

func frameUsage(f *ollamaFrame) *models.TokenUsage {
	if f.PromptEvalCount == 0 && f.EvalCount == 0 {
		return nil
	}
	return &models.TokenUsage{PromptTokens: f.PromptEvalCount, CompletionTokens: f.EvalCount}
}
