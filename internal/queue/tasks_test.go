package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"

	"lorekeeper-platform/internal/apperrors"
)

type fakeIndexer struct {
	err        error
	documentID string
	campaignID string
	calls      int
}

func (f *fakeIndexer) Index(ctx context.Context, documentID, campaignID string) error {
	f.calls++
	f.documentID = documentID
	f.campaignID = campaignID
	return f.err
}

func indexTask(t *testing.T, payload string) *asynq.Task {
	t.Helper()
	return asynq.NewTask(TaskIndexDocument, []byte(payload))
}

func TestHandleIndexDocumentSuccess(t *testing.T) {
	indexer := &fakeIndexer{}
	p := NewTaskProcessor(indexer)

	task := indexTask(t, `{"documentId":"doc-1","campaignId":"camp-1"}`)
	if err := p.HandleIndexDocument(context.Background(), task); err != nil {
		t.Fatalf("HandleIndexDocument: %v", err)
	}
	if indexer.calls != 1 {
		t.Fatalf("indexer calls = %d, want 1", indexer.calls)
	}
	if indexer.documentID != "doc-1" || indexer.campaignID != "camp-1" {
		t.Errorf("indexer got (%q, %q)", indexer.documentID, indexer.campaignID)
	}
}

func TestHandleIndexDocumentBadPayloadSkipsRetry(t *testing.T) {
	p := NewTaskProcessor(&fakeIndexer{})

	err := p.HandleIndexDocument(context.Background(), indexTask(t, `{not json`))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestHandleIndexDocumentMissingIDsSkipsRetry(t *testing.T) {
	indexer := &fakeIndexer{}
	p := NewTaskProcessor(indexer)

	err := p.HandleIndexDocument(context.Background(), indexTask(t, `{"documentId":"doc-1"}`))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
	if indexer.calls != 0 {
		t.Error("indexer should not run without both IDs")
	}
}

func TestHandleIndexDocumentTerminalErrorSkipsRetry(t *testing.T) {
	indexer := &fakeIndexer{
		err: apperrors.New(apperrors.CodeEncryptedPDF, "document is password protected"),
	}
	p := NewTaskProcessor(indexer)

	err := p.HandleIndexDocument(context.Background(), indexTask(t, `{"documentId":"doc-1","campaignId":"camp-1"}`))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for non-retryable error, got %v", err)
	}
}

func TestHandleIndexDocumentTransientErrorRetries(t *testing.T) {
	cause := apperrors.New(apperrors.CodeEmbeddingFailed, "embedding provider unavailable")
	p := NewTaskProcessor(&fakeIndexer{err: cause})

	err := p.HandleIndexDocument(context.Background(), indexTask(t, `{"documentId":"doc-1","campaignId":"camp-1"}`))
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, asynq.SkipRetry) {
		t.Fatal("retryable error must not carry SkipRetry")
	}
	if apperrors.CodeOf(err) != apperrors.CodeEmbeddingFailed {
		t.Errorf("code = %s, want EMBEDDING_FAILED", apperrors.CodeOf(err))
	}
}
