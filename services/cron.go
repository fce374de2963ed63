package services

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"lorekeeper-platform/internal/config"
	"lorekeeper-platform/internal/logger"
	"lorekeeper-platform/models"
)

// ReaperService fails documents stuck in `processing`. A crashed worker
// leaves its document mid-pipeline; the reaper sweeps them up so the
// UI never shows a permanently spinning progress bar.
type ReaperService struct {
	config    *config.Config
	documents *mongo.Collection
	chunks    *mongo.Collection
	scheduler *gocron.Scheduler
}

func NewReaperService(cfg *config.Config, documents, chunks *mongo.Collection) *ReaperService {
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()
	return &ReaperService{
		config:    cfg,
		documents: documents,
		chunks:    chunks,
		scheduler: s,
	}
}

// Start schedules the sweep. Runs every 5 minutes.
func (r *ReaperService) Start() error {
	_, err := r.scheduler.Every(5 * time.Minute).Tag("stuck-document-reaper").Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := r.Sweep(ctx); err != nil {
			logger.Error("stuck document sweep failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	r.scheduler.StartAsync()
	return nil
}

func (r *ReaperService) Stop() {
	r.scheduler.Stop()
}

// Sweep marks documents stuck in `processing` beyond the configured age
// as failed and removes their partial chunks.
func (r *ReaperService) Sweep(ctx context.Context) error {
	deadline := time.Now().Add(-time.Duration(r.config.StuckDocumentAge) * time.Minute)

	cursor, err := r.documents.Find(ctx, bson.M{
		"status":     models.StatusProcessing,
		"updated_at": bson.M{"$lt": deadline},
	})
	if err != nil {
		return err
	}
	var stuck []models.Document
	if err := cursor.All(ctx, &stuck); err != nil {
		return err
	}

	for _, doc := range stuck {
		if _, err := r.chunks.DeleteMany(ctx, bson.M{"document_id": doc.ID}); err != nil {
			logger.Error("reaper chunk cleanup failed", "document_id", doc.ID, "error", err)
			continue
		}
		_, err := r.documents.UpdateOne(ctx, bson.M{"_id": doc.ID, "status": models.StatusProcessing}, bson.M{
			"$set": bson.M{
				"status":               models.StatusFailed,
				"failure_message":      "Indexing timed out",
				"progress_message":     "Indexing timed out",
				"embeddings_generated": false,
				"updated_at":           time.Now(),
			},
		})
		if err != nil {
			logger.Error("reaper failed to mark document", "document_id", doc.ID, "error", err)
			continue
		}
		logger.Warn("reaped stuck document",
			"document_id", doc.ID,
			"campaign_id", doc.CampaignID,
			"stuck_since", doc.UpdatedAt,
		)
	}
	return nil
}
