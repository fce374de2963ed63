package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"lorekeeper-platform/internal/apperrors"
	"lorekeeper-platform/internal/config"
	"lorekeeper-platform/internal/logger"
)

const (
	// TaskIndexDocument runs the full indexing pipeline for one document.
	TaskIndexDocument = "document-indexing"

	// QueueIndexing is the asynq queue carrying indexing jobs.
	QueueIndexing = "document-indexing"
)

type IndexDocumentPayload struct {
	DocumentID string `json:"documentId"`
	CampaignID string `json:"campaignId"`
}

// NewIndexDocumentTask builds an indexing task for one document. The
// task ID is the document ID, so re-enqueueing an in-flight document is
// a no-op rather than a duplicate job.
func NewIndexDocumentTask(cfg *config.Config, documentID, campaignID string) (*asynq.Task, error) {
	payload, err := json.Marshal(IndexDocumentPayload{
		DocumentID: documentID,
		CampaignID: campaignID,
	})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskIndexDocument,
		payload,
		asynq.MaxRetry(cfg.IndexingMaxRetry),
		asynq.Timeout(30*time.Minute),
		asynq.Queue(QueueIndexing),
		asynq.TaskID(documentID),
	), nil
}

// Indexer is the part of the indexing service the worker needs.
type Indexer interface {
	Index(ctx context.Context, documentID, campaignID string) error
}

// TaskProcessor adapts queue tasks onto the indexing service and maps
// error classes onto asynq retry semantics.
type TaskProcessor struct {
	indexer Indexer
}

func NewTaskProcessor(indexer Indexer) *TaskProcessor {
	return &TaskProcessor{indexer: indexer}
}

// HandleIndexDocument processes one indexing task. Errors the pipeline
// classifies as non-retryable (bad input, missing document) terminate
// the task; transient errors let asynq back off and retry.
func (p *TaskProcessor) HandleIndexDocument(ctx context.Context, t *asynq.Task) error {
	var payload IndexDocumentPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}
	if payload.DocumentID == "" || payload.CampaignID == "" {
		return fmt.Errorf("missing document or campaign id: %w", asynq.SkipRetry)
	}

	err := p.indexer.Index(ctx, payload.DocumentID, payload.CampaignID)
	if err == nil {
		return nil
	}

	if !apperrors.IsRetryable(err) {
		logger.Warn("indexing task failed permanently",
			"document_id", payload.DocumentID,
			"code", string(apperrors.CodeOf(err)),
			"error", err,
		)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	logger.Warn("indexing task failed, will retry",
		"document_id", payload.DocumentID,
		"code", string(apperrors.CodeOf(err)),
		"error", err,
	)
	return err
}
