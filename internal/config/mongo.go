package config

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func ConnectMongoDB(cfg *Config) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %v", err)
	}

	// Test connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %v", err)
	}

	if err := createIndexes(client, cfg.DBName); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %v", err)
	}

	return client, nil
}

func createIndexes(client *mongo.Client, dbName string) error {
	db := client.Database(dbName)
	ctx := context.Background()

	documentsCollection := db.Collection("documents")
	documentIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "campaign_id", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "campaign_id", Value: 1}, {Key: "tags", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "campaign_id", Value: 1}, {Key: "document_type", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: 1}},
		},
	}
	if _, err := documentsCollection.Indexes().CreateMany(ctx, documentIndexes); err != nil {
		return err
	}

	// The ANN index on `embedding` and the Atlas text index on `content`
	// are search indexes, bootstrapped by cmd/migrate.
	chunksCollection := db.Collection("chunks")
	chunkIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "campaign_id", Value: 1}, {Key: "document_id", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "document_id", Value: 1}, {Key: "chunk_index", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := chunksCollection.Indexes().CreateMany(ctx, chunkIndexes); err != nil {
		return err
	}

	conversationsCollection := db.Collection("conversations")
	conversationIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "campaign_id", Value: 1}, {Key: "updated_at", Value: -1}},
		},
	}
	if _, err := conversationsCollection.Indexes().CreateMany(ctx, conversationIndexes); err != nil {
		return err
	}

	messagesCollection := db.Collection("messages")
	messageIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "timestamp", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "campaign_id", Value: 1}},
		},
	}
	if _, err := messagesCollection.Indexes().CreateMany(ctx, messageIndexes); err != nil {
		return err
	}

	return nil
}
