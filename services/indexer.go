package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"lorekeeper-platform/internal/ai"
	"lorekeeper-platform/internal/apperrors"
	"lorekeeper-platform/internal/config"
	"lorekeeper-platform/internal/logger"
	"lorekeeper-platform/internal/telemetry"
	"lorekeeper-platform/models"
	"lorekeeper-platform/utils"
)

// Indexing stage boundaries as progress percentages.
const (
	progressExtracting = 20
	progressChunking   = 35
	progressEmbedding  = 85
	progressStoring    = 95
	progressDone       = 100
)

const chunkInsertBatchSize = 100

// progressChannel returns the redis pub/sub channel carrying progress
// updates for one document.
func progressChannel(documentID string) string {
	return "indexing:progress:" + documentID
}

// ProgressUpdate is the payload published on the progress channel and
// mirrored onto the document record.
type ProgressUpdate struct {
	Percentage int    `json:"percentage"`
	Message    string `json:"message"`
	Metadata   bson.M `json:"metadata,omitempty"`
}

// IndexingService runs the extract -> chunk -> embed -> store pipeline
// for one document. It owns no queue concerns; the worker handler
// decides retry behaviour from the returned error.
type IndexingService struct {
	config    *config.Config
	documents *mongo.Collection
	chunks    *mongo.Collection
	storage   *FileStorageManager
	pdf       *PDFProcessor
	text      *TextProcessor
	chunker   *ChunkingService
	embedder  ai.EmbeddingClient
	rdb       *redis.Client
	metrics   *telemetry.Metrics
}

func NewIndexingService(
	cfg *config.Config,
	documents, chunks *mongo.Collection,
	storage *FileStorageManager,
	embedder ai.EmbeddingClient,
	rdb *redis.Client,
	metrics *telemetry.Metrics,
) *IndexingService {
	return &IndexingService{
		config:    cfg,
		documents: documents,
		chunks:    chunks,
		storage:   storage,
		pdf:       NewPDFProcessor(cfg, storage),
		text:      NewTextProcessor(cfg, storage),
		chunker:   NewChunkingService(cfg),
		embedder:  embedder,
		rdb:       rdb,
		metrics:   metrics,
	}
}

// Index processes one document end to end. On failure the document is
// marked failed, partial chunks are removed, and the original error is
// returned so the queue can decide whether to retry.
func (s *IndexingService) Index(ctx context.Context, documentID, campaignID string) error {
	start := time.Now()

	doc, err := s.loadDocument(ctx, documentID, campaignID)
	if err != nil {
		return err
	}

	logger.Info("indexing started",
		"document_id", documentID,
		"campaign_id", campaignID,
		"mime_type", doc.MimeType,
	)

	if err := s.run(ctx, doc); err != nil {
		s.failDocument(context.WithoutCancel(ctx), doc, err)
		s.metrics.RecordIndexing(time.Since(start).Seconds(), "failed")
		s.metrics.RecordIndexingFailure(string(apperrors.CodeOf(err)))
		return err
	}

	s.metrics.RecordIndexing(time.Since(start).Seconds(), "success")
	logger.Info("indexing finished",
		"document_id", documentID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (s *IndexingService) run(ctx context.Context, doc *models.Document) error {
	if err := s.markProcessing(ctx, doc); err != nil {
		return err
	}

	// Extraction: 0 -> 20
	s.publishProgress(ctx, doc, 0, "Extracting text", nil)
	extracted, err := s.extract(ctx, doc)
	if err != nil {
		return err
	}
	s.publishProgress(ctx, doc, progressExtracting, "Text extracted", bson.M{
		"characters": len(extracted.Content),
		"pages":      len(extracted.Pages),
	})

	if err := s.cacheContent(ctx, doc, extracted); err != nil {
		// The cache is an optimisation; indexing proceeds without it.
		logger.Warn("content cache write failed", "document_id", doc.ID, "error", err)
	}

	// Chunking: 20 -> 35
	if err := checkCancelled(ctx); err != nil {
		return err
	}
	result, err := s.chunker.Chunk(extracted, s.chunkOptions(doc, extracted))
	if err != nil {
		return err
	}
	s.publishProgress(ctx, doc, progressChunking, fmt.Sprintf("Created %d chunks", len(result.Chunks)), bson.M{
		"chunks":   len(result.Chunks),
		"strategy": result.Strategy,
	})

	// Embedding: 35 -> 85
	vectors, err := s.embedChunks(ctx, doc, result.Chunks)
	if err != nil {
		return err
	}

	// Storage: 85 -> 95
	if err := s.storeChunks(ctx, doc, result.Chunks, vectors); err != nil {
		return err
	}
	s.publishProgress(ctx, doc, progressStoring, "Chunks stored", nil)

	// Finalise: 95 -> 100
	return s.markReady(ctx, doc, len(result.Chunks))
}

func (s *IndexingService) loadDocument(ctx context.Context, documentID, campaignID string) (*models.Document, error) {
	var doc models.Document
	err := s.documents.FindOne(ctx, bson.M{"_id": documentID, "campaign_id": campaignID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "document %s not found in campaign %s", documentID, campaignID)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageError, "failed to load document", err)
	}
	return &doc, nil
}

func (s *IndexingService) markProcessing(ctx context.Context, doc *models.Document) error {
	_, err := s.documents.UpdateOne(ctx, bson.M{"_id": doc.ID}, bson.M{
		"$set": bson.M{
			"status":           models.StatusProcessing,
			"progress":         0,
			"progress_message": "Starting",
			"failure_message":  "",
			"updated_at":       time.Now(),
		},
	})
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageError, "failed to mark document processing", err)
	}
	doc.Status = models.StatusProcessing
	return nil
}

// extract dispatches on MIME type. PDFs carry page structure, markdown
// carries heading sections, plain text carries neither.
func (s *IndexingService) extract(ctx context.Context, doc *models.Document) (*models.ExtractedContent, error) {
	switch doc.MimeType {
	case "application/pdf":
		return s.pdf.Process(ctx, doc)
	case "text/markdown", "text/x-markdown", "text/plain":
		return s.text.Process(ctx, doc)
	default:
		return nil, apperrors.Newf(apperrors.CodeUnsupportedMimeType, "unsupported mime type: %s", doc.MimeType)
	}
}

// cacheContent stores the extracted text compressed on the document so
// re-indexing and export can skip re-parsing the source file.
func (s *IndexingService) cacheContent(ctx context.Context, doc *models.Document, extracted *models.ExtractedContent) error {
	compressed, err := utils.CompressText(extracted.Content)
	if err != nil {
		return err
	}
	update := bson.M{"content_compressed": compressed}
	if len(extracted.Metadata) > 0 {
		merged := bson.M{}
		for k, v := range doc.Metadata {
			merged[k] = v
		}
		for k, v := range extracted.Metadata {
			merged[k] = v
		}
		update["metadata"] = merged
		doc.Metadata = merged
	}
	_, err = s.documents.UpdateOne(ctx, bson.M{"_id": doc.ID}, bson.M{"$set": update})
	return err
}

// chunkOptions picks the strategy: an explicit metadata override wins,
// markdown documents with sections chunk semantically, everything else
// uses fixed-size splitting.
func (s *IndexingService) chunkOptions(doc *models.Document, extracted *models.ExtractedContent) ChunkOptions {
	opts := ChunkOptions{Strategy: StrategyFixedSize}
	if override, ok := doc.Metadata["chunking_strategy"].(string); ok && override != "" {
		opts.Strategy = override
		return opts
	}
	if isMarkdownMime(doc.MimeType) {
		if len(extracted.Sections) > 0 {
			opts.Strategy = StrategySemantic
		} else {
			opts.Strategy = StrategyMarkdown
		}
	}
	return opts
}

// embedChunks generates vectors for every chunk, mapping batch
// completion linearly onto the 35 -> 85 progress range. Cancellation is
// checked between batches so a dying worker stops promptly.
func (s *IndexingService) embedChunks(ctx context.Context, doc *models.Document, chunks []ChunkData) ([][]float32, error) {
	batchSize := s.config.EmbeddingBatchSize
	if batchSize <= 0 {
		batchSize = 20
	}

	vectors := make([][]float32, 0, len(chunks))
	for i := 0; i < len(chunks); i += batchSize {
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}

		end := i + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-i)
		for _, c := range chunks[i:end] {
			texts = append(texts, c.Content)
		}

		batch, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)

		pct := progressChunking + (progressEmbedding-progressChunking)*end/len(chunks)
		s.publishProgress(ctx, doc, pct,
			fmt.Sprintf("Embedded %d/%d chunks", end, len(chunks)), nil)
	}

	s.metrics.RecordEmbeddings(int64(len(vectors)), s.config.EmbeddingsModel)
	return vectors, nil
}

// storeChunks replaces the document's chunk set atomically enough for
// retries: old chunks are dropped first, then batches inserted in
// ascending chunk order.
func (s *IndexingService) storeChunks(ctx context.Context, doc *models.Document, chunks []ChunkData, vectors [][]float32) error {
	if len(vectors) != len(chunks) {
		return apperrors.Newf(apperrors.CodeEmbeddingFailed,
			"embedding count mismatch: %d vectors for %d chunks", len(vectors), len(chunks))
	}

	if _, err := s.chunks.DeleteMany(ctx, bson.M{"document_id": doc.ID}); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageError, "failed to clear previous chunks", err)
	}

	now := time.Now()
	for i := 0; i < len(chunks); i += chunkInsertBatchSize {
		if err := checkCancelled(ctx); err != nil {
			return err
		}

		end := i + chunkInsertBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := make([]interface{}, 0, end-i)
		for j := i; j < end; j++ {
			c := chunks[j]
			batch = append(batch, models.Chunk{
				ID:         uuid.New().String(),
				DocumentID: doc.ID,
				CampaignID: doc.CampaignID,
				Content:    c.Content,
				Embedding:  vectors[j],
				ChunkIndex: j,
				TokenCount: c.TokenCount,
				PageNumber: c.PageNumber,
				Section:    c.Section,
				CreatedAt:  now,
			})
		}
		if _, err := s.chunks.InsertMany(ctx, batch); err != nil {
			return apperrors.Wrap(apperrors.CodeStorageError, "failed to insert chunks", err)
		}
	}
	return nil
}

func (s *IndexingService) markReady(ctx context.Context, doc *models.Document, chunkCount int) error {
	now := time.Now()
	_, err := s.documents.UpdateOne(ctx, bson.M{"_id": doc.ID}, bson.M{
		"$set": bson.M{
			"status":               models.StatusReady,
			"progress":             progressDone,
			"progress_message":     "Indexing complete",
			"chunk_count":          chunkCount,
			"embeddings_generated": true,
			"processed_at":         now,
			"updated_at":           now,
		},
	})
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageError, "failed to mark document ready", err)
	}
	s.publish(ctx, doc.ID, ProgressUpdate{
		Percentage: progressDone,
		Message:    "Indexing complete",
		Metadata:   bson.M{"chunk_count": chunkCount},
	})
	return nil
}

// failDocument cleans up after a failed run: partial chunks are removed
// and the document carries a user-facing failure message.
func (s *IndexingService) failDocument(ctx context.Context, doc *models.Document, cause error) {
	if _, err := s.chunks.DeleteMany(ctx, bson.M{"document_id": doc.ID}); err != nil {
		logger.Error("failed to clean up chunks after indexing failure",
			"document_id", doc.ID, "error", err)
	}

	msg := apperrors.UserMessage(cause)
	_, err := s.documents.UpdateOne(ctx, bson.M{"_id": doc.ID}, bson.M{
		"$set": bson.M{
			"status":               models.StatusFailed,
			"failure_message":      msg,
			"progress_message":     msg,
			"embeddings_generated": false,
			"updated_at":           time.Now(),
		},
	})
	if err != nil {
		logger.Error("failed to mark document failed", "document_id", doc.ID, "error", err)
	}

	s.publish(ctx, doc.ID, ProgressUpdate{
		Percentage: doc.Progress,
		Message:    msg,
		Metadata:   bson.M{"status": models.StatusFailed, "code": string(apperrors.CodeOf(cause))},
	})
	logger.Error("indexing failed",
		"document_id", doc.ID,
		"code", string(apperrors.CodeOf(cause)),
		"error", cause,
	)
}

// publishProgress persists progress on the document and fans it out to
// subscribers. Neither write is allowed to fail the pipeline.
func (s *IndexingService) publishProgress(ctx context.Context, doc *models.Document, pct int, message string, metadata bson.M) {
	doc.Progress = pct
	_, err := s.documents.UpdateOne(ctx, bson.M{"_id": doc.ID}, bson.M{
		"$set": bson.M{
			"progress":         pct,
			"progress_message": message,
			"updated_at":       time.Now(),
		},
	})
	if err != nil {
		logger.Warn("progress persist failed", "document_id", doc.ID, "error", err)
	}
	s.publish(ctx, doc.ID, ProgressUpdate{Percentage: pct, Message: message, Metadata: metadata})
}

func (s *IndexingService) publish(ctx context.Context, documentID string, update ProgressUpdate) {
	if s.rdb == nil {
		return
	}
	payload, err := json.Marshal(update)
	if err != nil {
		return
	}
	if err := s.rdb.Publish(ctx, progressChannel(documentID), payload).Err(); err != nil {
		logger.Warn("progress publish failed", "document_id", documentID, "error", err)
	}
}

func checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CodeCancelled, "Job cancelled", err)
	}
	return nil
}

// CachedContent decompresses the extracted text cached on a document,
// if present.
func CachedContent(doc *models.Document) (string, bool) {
	if len(doc.ContentCompressed) == 0 {
		return "", false
	}
	text, err := utils.DecompressText(doc.ContentCompressed)
	if err != nil || strings.TrimSpace(text) == "" {
		return "", false
	}
	return text, true
}
