// Package ai provides the embedding client used by indexing and query
// paths. Vectors are fixed at 768 dimensions to match the chunk schema.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	genai "github.com/google/generative-ai-go/genai"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	"lorekeeper-platform/internal/apperrors"
	"lorekeeper-platform/internal/config"
	"lorekeeper-platform/models"
	"lorekeeper-platform/utils"
)

// EmbeddingClient generates dense vectors for chunk and query text.
type EmbeddingClient interface {
	// EmbedBatch embeds texts in provider-level batches. The result is
	// positionally aligned with the input. An empty input returns an
	// empty slice without a network call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a single query string.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Close() error
}

// NewEmbeddingClient builds the configured provider. When a Redis
// client is supplied, query embeddings are cached.
func NewEmbeddingClient(cfg *config.Config, rdb *redis.Client) (EmbeddingClient, error) {
	var client EmbeddingClient
	switch cfg.EmbeddingsProvider {
	case "google":
		gc, err := newGoogleEmbedder(cfg)
		if err != nil {
			return nil, err
		}
		client = gc
	case "ollama", "":
		client = newHTTPEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unknown embeddings provider: %s", cfg.EmbeddingsProvider)
	}
	if rdb != nil {
		client = &cachedEmbedder{inner: client, rdb: rdb, ttl: 24 * time.Hour}
	}
	return client, nil
}

// httpEmbedder speaks the generic embed endpoint: POST {base}/embed
// with {model, input: []string} and reads {embeddings: [][]float32}.
type httpEmbedder struct {
	baseURL    string
	model      string
	batchSize  int
	timeout    time.Duration
	httpClient *http.Client
}

func newHTTPEmbedder(cfg *config.Config) *httpEmbedder {
	batch := cfg.EmbeddingBatchSize
	if batch <= 0 || batch > 20 {
		batch = 20
	}
	timeout := time.Duration(cfg.EmbeddingTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &httpEmbedder{
		baseURL:    strings.TrimRight(cfg.EmbeddingsBaseURL, "/"),
		model:      cfg.EmbeddingsModel,
		batchSize:  batch,
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error"`
}

func (e *httpEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := e.embedOnce(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (e *httpEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embedOnce(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *httpEmbedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	payload, err := json.Marshal(embedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeEmbeddingFailed, "embed request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Newf(apperrors.CodeEmbeddingFailed, "embed endpoint returned status %d", resp.StatusCode)
	}

	var body embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeEmbeddingFailed, "decode embed response", err)
	}
	if body.Error != "" {
		return nil, apperrors.Newf(apperrors.CodeEmbeddingFailed, "embed endpoint error: %s", body.Error)
	}
	return validateVectors(body.Embeddings, len(texts))
}

func (e *httpEmbedder) Close() error { return nil }

// googleEmbedder uses the Gemini SDK batch embedding API.
type googleEmbedder struct {
	client    *genai.Client
	model     string
	batchSize int
	timeout   time.Duration
}

func newGoogleEmbedder(cfg *config.Config) (*googleEmbedder, error) {
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, err
	}
	batch := cfg.EmbeddingBatchSize
	if batch <= 0 || batch > 20 {
		batch = 20
	}
	timeout := time.Duration(cfg.EmbeddingTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &googleEmbedder{
		client:    client,
		model:     cfg.GoogleEmbeddingsModel,
		batchSize: batch,
		timeout:   timeout,
	}, nil
}

func (g *googleEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	em := g.client.EmbeddingModel(g.model)
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += g.batchSize {
		end := start + g.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := em.NewBatch()
		for _, text := range texts[start:end] {
			batch.AddContent(genai.Text(text))
		}

		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		resp, err := em.BatchEmbedContents(callCtx, batch)
		cancel()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeEmbeddingFailed, "batch embed failed", err)
		}

		vectors := make([][]float32, 0, len(resp.Embeddings))
		for _, emb := range resp.Embeddings {
			vectors = append(vectors, emb.Values)
		}
		validated, err := validateVectors(vectors, end-start)
		if err != nil {
			return nil, err
		}
		out = append(out, validated...)
	}
	return out, nil
}

func (g *googleEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (g *googleEmbedder) Close() error { return g.client.Close() }

// cachedEmbedder caches query embeddings in Redis. Chunk batches are
// not cached, indexing embeds each chunk once.
type cachedEmbedder struct {
	inner EmbeddingClient
	rdb   *redis.Client
	ttl   time.Duration
}

func (c *cachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return c.inner.EmbedBatch(ctx, texts)
}

func (c *cachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := queryCacheKey(text)
	if cached, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var vector []float32
		if json.Unmarshal(cached, &vector) == nil && len(vector) == models.EmbeddingDimensions {
			return vector, nil
		}
	}

	vector, err := c.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	if encoded, err := json.Marshal(vector); err == nil {
		// Cache failures are non-fatal.
		c.rdb.Set(ctx, key, encoded, c.ttl)
	}
	return vector, nil
}

func (c *cachedEmbedder) Close() error { return c.inner.Close() }

func queryCacheKey(text string) string {
	return "embedding:query:" + utils.HashBytes([]byte(text))
}

func validateVectors(vectors [][]float32, want int) ([][]float32, error) {
	if len(vectors) != want {
		return nil, apperrors.Newf(apperrors.CodeEmbeddingFailed, "embed endpoint returned %d vectors, expected %d", len(vectors), want)
	}
	for i, v := range vectors {
		if len(v) != models.EmbeddingDimensions {
			return nil, apperrors.Newf(apperrors.CodeEmbeddingFailed, "vector %d has dimension %d, expected %d", i, len(v), models.EmbeddingDimensions)
		}
	}
	return vectors, nil
}
