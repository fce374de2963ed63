package services

import (
	"context"

	"lorekeeper-platform/internal/llm"
)

// fakeLLM scripts LLM responses for service tests.
type fakeLLM struct {
	response string
	err      error
	stream   []llm.StreamChunk

	calls       int
	lastPrompt  string
	lastHistory []llm.Message
	lastOpts    llm.Options
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, opts llm.Options) (*llm.Response, error) {
	f.calls++
	f.lastPrompt = prompt
	f.lastOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Content: f.response}, nil
}

func (f *fakeLLM) Chat(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Response, error) {
	f.calls++
	f.lastHistory = messages
	f.lastOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Content: f.response}, nil
}

func (f *fakeLLM) GenerateStream(ctx context.Context, prompt string, opts llm.Options) (<-chan llm.StreamChunk, error) {
	f.calls++
	f.lastPrompt = prompt
	f.lastOpts = opts
	return f.streamChan(ctx)
}

func (f *fakeLLM) ChatStream(ctx context.Context, messages []llm.Message, opts llm.Options) (<-chan llm.StreamChunk, error) {
	f.calls++
	f.lastHistory = messages
	f.lastOpts = opts
	return f.streamChan(ctx)
}

func (f *fakeLLM) streamChan(ctx context.Context) (<-chan llm.StreamChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		for _, chunk := range f.stream {
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (f *fakeLLM) HealthCheck(ctx context.Context) error { return f.err }

func (f *fakeLLM) Close() error { return nil }
