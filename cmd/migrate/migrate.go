package main

import (
	"context"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"lorekeeper-platform/internal/config"
	"lorekeeper-platform/models"
)

// Bootstraps the Atlas search indexes on the chunks collection: the ANN
// vector index and the lexical text index. Safe to re-run; existing
// indexes are left alone.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer mongoClient.Disconnect(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	chunks := mongoClient.Database(cfg.DBName).Collection("chunks")
	existing, err := listSearchIndexNames(ctx, chunks)
	if err != nil {
		log.Fatal("Failed to list search indexes:", err)
	}

	if !existing[cfg.VectorIndexName] {
		if err := createVectorIndex(ctx, chunks, cfg.VectorIndexName); err != nil {
			log.Fatal("Failed to create vector index:", err)
		}
		log.Printf("Created vector search index %q", cfg.VectorIndexName)
	} else {
		log.Printf("Vector search index %q already exists", cfg.VectorIndexName)
	}

	if !existing[cfg.SearchIndexName] {
		if err := createTextIndex(ctx, chunks, cfg.SearchIndexName); err != nil {
			log.Fatal("Failed to create text index:", err)
		}
		log.Printf("Created text search index %q", cfg.SearchIndexName)
	} else {
		log.Printf("Text search index %q already exists", cfg.SearchIndexName)
	}

	log.Println("Migration complete")
}

func listSearchIndexNames(ctx context.Context, col *mongo.Collection) (map[string]bool, error) {
	cursor, err := col.SearchIndexes().List(ctx, nil)
	if err != nil {
		return nil, err
	}
	var specs []bson.M
	if err := cursor.All(ctx, &specs); err != nil {
		return nil, err
	}
	names := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if name, ok := spec["name"].(string); ok {
			names[name] = true
		}
	}
	return names, nil
}

func createVectorIndex(ctx context.Context, col *mongo.Collection, name string) error {
	definition := bson.M{
		"fields": []bson.M{
			{
				"type":          "vector",
				"path":          "embedding",
				"numDimensions": models.EmbeddingDimensions,
				"similarity":    "cosine",
			},
			{"type": "filter", "path": "campaign_id"},
			{"type": "filter", "path": "document_id"},
		},
	}
	_, err := col.SearchIndexes().CreateOne(ctx, mongo.SearchIndexModel{
		Definition: definition,
		Options:    options.SearchIndexes().SetName(name).SetType("vectorSearch"),
	})
	return err
}

func createTextIndex(ctx context.Context, col *mongo.Collection, name string) error {
	definition := bson.M{
		"mappings": bson.M{
			"dynamic": false,
			"fields": bson.M{
				"content":     bson.M{"type": "string"},
				"campaign_id": bson.M{"type": "token"},
				"document_id": bson.M{"type": "token"},
			},
		},
	}
	_, err := col.SearchIndexes().CreateOne(ctx, mongo.SearchIndexModel{
		Definition: definition,
		Options:    options.SearchIndexes().SetName(name),
	})
	return err
}
