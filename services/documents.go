package services

import (
	"context"
	"mime"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"lorekeeper-platform/internal/apperrors"
	"lorekeeper-platform/internal/config"
	"lorekeeper-platform/internal/logger"
	"lorekeeper-platform/internal/queue"
	"lorekeeper-platform/models"
)

// UploadOptions carries the multipart form fields accompanying a file.
type UploadOptions struct {
	Name         string
	DocumentType string
	Tags         []string
}

// DocumentService owns the document lifecycle: upload and enqueue,
// listing, status, and cascade deletion.
type DocumentService struct {
	config      *config.Config
	documents   *mongo.Collection
	chunks      *mongo.Collection
	storage     *FileStorageManager
	queueClient *asynq.Client
}

func NewDocumentService(cfg *config.Config, documents, chunks *mongo.Collection, storage *FileStorageManager, queueClient *asynq.Client) *DocumentService {
	return &DocumentService{
		config:      cfg,
		documents:   documents,
		chunks:      chunks,
		storage:     storage,
		queueClient: queueClient,
	}
}

// Upload validates and stores the file, creates a pending document and
// enqueues indexing. A file already present in the campaign (same
// content hash) returns the existing document instead of re-indexing.
func (s *DocumentService) Upload(ctx context.Context, campaignID string, file multipart.File, header *multipart.FileHeader, opts UploadOptions) (*models.UploadResponse, error) {
	mimeType := resolveMimeType(header)
	if err := s.storage.ValidateUpload(header, mimeType); err != nil {
		return nil, err
	}
	if opts.DocumentType != "" && !models.ValidDocumentType(opts.DocumentType) {
		return nil, apperrors.Newf(apperrors.CodeInvalidQuery, "unknown document type: %s", opts.DocumentType)
	}

	stored, err := s.storage.SecureStore(file, header, campaignID)
	if err != nil {
		return nil, err
	}

	// Same content already indexed in this campaign: point at it.
	var existing models.Document
	err = s.documents.FindOne(ctx, bson.M{
		"campaign_id": campaignID,
		"file_hash":   stored.Hash,
	}).Decode(&existing)
	if err == nil {
		s.storage.Cleanup(stored.Path)
		return &models.UploadResponse{
			ID:      existing.ID,
			Name:    existing.Name,
			Status:  existing.Status,
			Message: "Document already exists in this campaign",
		}, nil
	}
	if err != mongo.ErrNoDocuments {
		s.storage.Cleanup(stored.Path)
		return nil, apperrors.Wrap(apperrors.CodeStorageError, "duplicate lookup failed", err)
	}

	name := opts.Name
	if name == "" {
		name = header.Filename
	}
	docType := opts.DocumentType
	if docType == "" {
		docType = models.DocTypeNotes
	}

	now := time.Now()
	doc := models.Document{
		ID:           uuid.New().String(),
		CampaignID:   campaignID,
		Name:         name,
		DocumentType: docType,
		MimeType:     mimeType,
		FilePath:     stored.Path,
		FileHash:     stored.Hash,
		FileSize:     stored.Size,
		Status:       models.StatusPending,
		Tags:         normalizeTags(opts.Tags),
		UploadedAt:   now,
		UpdatedAt:    now,
	}

	if _, err := s.documents.InsertOne(ctx, doc); err != nil {
		s.storage.Cleanup(stored.Path)
		return nil, apperrors.Wrap(apperrors.CodeStorageError, "failed to create document record", err)
	}

	task, err := queue.NewIndexDocumentTask(s.config, doc.ID, campaignID)
	if err != nil {
		s.rollbackUpload(ctx, &doc)
		return nil, apperrors.Wrap(apperrors.CodeStorageFailed, "failed to create indexing task", err)
	}
	info, err := s.queueClient.Enqueue(task)
	if err != nil {
		s.rollbackUpload(ctx, &doc)
		return nil, apperrors.Wrap(apperrors.CodeStorageFailed, "failed to enqueue indexing task", err)
	}

	logger.Info("document accepted for indexing",
		"document_id", doc.ID,
		"campaign_id", campaignID,
		"task_id", info.ID,
		"size", stored.Size,
	)

	return &models.UploadResponse{
		ID:      doc.ID,
		Name:    doc.Name,
		Status:  doc.Status,
		Message: "Document accepted for indexing",
		TaskID:  info.ID,
	}, nil
}

func (s *DocumentService) rollbackUpload(ctx context.Context, doc *models.Document) {
	s.storage.Cleanup(doc.FilePath)
	if _, err := s.documents.DeleteOne(ctx, bson.M{"_id": doc.ID}); err != nil {
		logger.Error("upload rollback failed", "document_id", doc.ID, "error", err)
	}
}

// List returns the campaign's documents, newest first. Optional status
// and type filters narrow the result.
func (s *DocumentService) List(ctx context.Context, campaignID, status, docType string) ([]models.Document, error) {
	filter := bson.M{"campaign_id": campaignID}
	if status != "" {
		filter["status"] = status
	}
	if docType != "" {
		filter["document_type"] = docType
	}

	opts := options.Find().SetSort(bson.D{{Key: "uploaded_at", Value: -1}})
	cursor, err := s.documents.Find(ctx, filter, opts)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageError, "failed to list documents", err)
	}
	docs := []models.Document{}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageError, "failed to decode documents", err)
	}
	return docs, nil
}

// Get loads one document scoped to its campaign.
func (s *DocumentService) Get(ctx context.Context, campaignID, documentID string) (*models.Document, error) {
	var doc models.Document
	err := s.documents.FindOne(ctx, bson.M{"_id": documentID, "campaign_id": campaignID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "document %s not found", documentID)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageError, "failed to load document", err)
	}
	return &doc, nil
}

// Delete removes a document, its chunks and its stored file. Chunks go
// first so retrieval never sees orphans pointing at a missing document.
func (s *DocumentService) Delete(ctx context.Context, campaignID, documentID string) error {
	doc, err := s.Get(ctx, campaignID, documentID)
	if err != nil {
		return err
	}

	if _, err := s.chunks.DeleteMany(ctx, bson.M{"document_id": doc.ID}); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageError, "failed to delete chunks", err)
	}
	if _, err := s.documents.DeleteOne(ctx, bson.M{"_id": doc.ID}); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageError, "failed to delete document", err)
	}
	s.storage.Cleanup(doc.FilePath)

	logger.Info("document deleted", "document_id", doc.ID, "campaign_id", campaignID)
	return nil
}

// resolveMimeType prefers the declared Content-Type, falling back to
// the filename extension.
func resolveMimeType(header *multipart.FileHeader) string {
	ct := header.Header.Get("Content-Type")
	if ct != "" && ct != "application/octet-stream" {
		if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
			return mediaType
		}
	}
	switch strings.ToLower(filepath.Ext(header.Filename)) {
	case ".pdf":
		return "application/pdf"
	case ".md", ".markdown":
		return "text/markdown"
	case ".txt":
		return "text/plain"
	}
	return ct
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
