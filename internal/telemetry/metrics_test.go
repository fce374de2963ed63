package telemetry

import "testing"

// InitMetrics runs against the global meter provider, a no-op unless an
// exporter is installed, so every record helper must be safe to call in
// that configuration.
func TestMetricsRecordHelpers(t *testing.T) {
	m, err := InitMetrics()
	if err != nil {
		t.Fatalf("InitMetrics: %v", err)
	}

	m.RecordRequest("POST", "/campaigns/:id/query", "success", 0.25)
	m.RecordIndexing(3.5, "failed")
	m.RecordIndexingFailure("EXTRACTION_FAILED")
	m.RecordEmbeddings(20, "nomic-embed-text")
	m.RecordQuery(1.2, "high")
	m.RecordLLMTokens(512, "gemini")
	m.RecordCircuitBreakerState("GeminiAPI", "open")
}
