package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics
type Metrics struct {
	RequestCounter      metric.Int64Counter
	RequestDuration     metric.Float64Histogram
	IndexingDuration    metric.Float64Histogram
	IndexingFailures    metric.Int64Counter
	EmbeddingsGenerated metric.Int64Counter
	QueryDuration       metric.Float64Histogram
	LLMTokensUsed       metric.Int64Counter
	CircuitBreakerState metric.Int64Counter
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("lorekeeper-platform")

	requestCounter, err := meter.Int64Counter(
		"http.requests.total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	indexingDuration, err := meter.Float64Histogram(
		"indexing.job.duration",
		metric.WithDescription("Document indexing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	indexingFailures, err := meter.Int64Counter(
		"document_indexing_failed",
		metric.WithDescription("Document indexing jobs that failed"),
	)
	if err != nil {
		return nil, err
	}

	embeddingsGenerated, err := meter.Int64Counter(
		"embeddings.generated.total",
		metric.WithDescription("Total embedding vectors generated"),
	)
	if err != nil {
		return nil, err
	}

	queryDuration, err := meter.Float64Histogram(
		"query.duration",
		metric.WithDescription("End-to-end query processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	llmTokensUsed, err := meter.Int64Counter(
		"llm.tokens.used",
		metric.WithDescription("Total LLM tokens used"),
	)
	if err != nil {
		return nil, err
	}

	circuitBreakerState, err := meter.Int64Counter(
		"circuit_breaker.state_changes",
		metric.WithDescription("Circuit breaker state changes"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RequestCounter:      requestCounter,
		RequestDuration:     requestDuration,
		IndexingDuration:    indexingDuration,
		IndexingFailures:    indexingFailures,
		EmbeddingsGenerated: embeddingsGenerated,
		QueryDuration:       queryDuration,
		LLMTokensUsed:       llmTokensUsed,
		CircuitBreakerState: circuitBreakerState,
	}, nil
}

// RecordRequest records HTTP request metrics
func (m *Metrics) RecordRequest(method, path, status string, duration float64) {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("http.status", status),
	}

	m.RequestCounter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.RequestDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordIndexing records one finished indexing job.
func (m *Metrics) RecordIndexing(duration float64, status string) {
	attrs := []attribute.KeyValue{
		attribute.String("indexing.status", status),
	}
	m.IndexingDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
	if status == "failed" {
		m.IndexingFailures.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	}
}

// RecordIndexingFailure emits the document_indexing_failed event.
func (m *Metrics) RecordIndexingFailure(code string) {
	m.IndexingFailures.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("error.code", code),
	))
}

// RecordEmbeddings counts generated embedding vectors.
func (m *Metrics) RecordEmbeddings(count int64, model string) {
	m.EmbeddingsGenerated.Add(context.Background(), count, metric.WithAttributes(
		attribute.String("embeddings.model", model),
	))
}

// RecordQuery records query path duration.
func (m *Metrics) RecordQuery(duration float64, confidence string) {
	m.QueryDuration.Record(context.Background(), duration, metric.WithAttributes(
		attribute.String("query.confidence", confidence),
	))
}

// RecordLLMTokens records LLM token usage.
func (m *Metrics) RecordLLMTokens(tokens int64, model string) {
	m.LLMTokensUsed.Add(context.Background(), tokens, metric.WithAttributes(
		attribute.String("llm.model", model),
	))
}

// RecordCircuitBreakerState records circuit breaker state changes
func (m *Metrics) RecordCircuitBreakerState(service, state string) {
	attrs := []attribute.KeyValue{
		attribute.String("service", service),
		attribute.String("state", state),
	}

	m.CircuitBreakerState.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}
