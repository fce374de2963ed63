package main

import (
	"context"
	"log"

	"github.com/hibiken/asynq"

	"lorekeeper-platform/internal/ai"
	"lorekeeper-platform/internal/config"
	"lorekeeper-platform/internal/logger"
	"lorekeeper-platform/internal/queue"
	"lorekeeper-platform/internal/telemetry"
	"lorekeeper-platform/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)

	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer mongoClient.Disconnect(context.Background())

	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer rdb.Close()

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		log.Fatal("Failed to initialize metrics:", err)
	}

	embedder, err := ai.NewEmbeddingClient(cfg, rdb)
	if err != nil {
		log.Fatal("Failed to initialize embedding client:", err)
	}
	defer embedder.Close()

	db := mongoClient.Database(cfg.DBName)
	documents := db.Collection("documents")
	chunks := db.Collection("chunks")

	storage := services.NewFileStorageManager(cfg)
	indexer := services.NewIndexingService(cfg, documents, chunks, storage, embedder, rdb, metrics)
	processor := queue.NewTaskProcessor(indexer)

	server := asynq.NewServer(
		queue.RedisOpt(cfg),
		asynq.Config{
			Concurrency: cfg.IndexingConcurrency,
			Queues: map[string]int{
				queue.QueueIndexing: 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskIndexDocument, processor.HandleIndexDocument)

	logger.Info("worker starting",
		"concurrency", cfg.IndexingConcurrency,
		"queue", queue.QueueIndexing,
	)
	if err := server.Run(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
}
