package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"lorekeeper-platform/internal/ai"
	"lorekeeper-platform/internal/auth"
	"lorekeeper-platform/internal/config"
	"lorekeeper-platform/internal/llm"
	"lorekeeper-platform/internal/logger"
	"lorekeeper-platform/internal/queue"
	"lorekeeper-platform/internal/telemetry"
	"lorekeeper-platform/middleware"
	"lorekeeper-platform/routes"
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
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx)
	}()

	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer rdb.Close()

	if cfg.OTLPEndpoint != "" {
		shutdown, err := telemetry.InitTracer("lorekeeper-platform", cfg.OTLPEndpoint)
		if err != nil {
			logger.Warn("tracing disabled", "error", err)
		} else {
			defer shutdown()
		}
	}
	metrics, err := telemetry.InitMetrics()
	if err != nil {
		log.Fatal("Failed to initialize metrics:", err)
	}

	llmClient, err := llm.NewClient(cfg, metrics)
	if err != nil {
		log.Fatal("Failed to initialize LLM client:", err)
	}
	defer llmClient.Close()

	embedder, err := ai.NewEmbeddingClient(cfg, rdb)
	if err != nil {
		log.Fatal("Failed to initialize embedding client:", err)
	}
	defer embedder.Close()

	db := mongoClient.Database(cfg.DBName)
	documents := db.Collection("documents")
	chunks := db.Collection("chunks")
	conversations := db.Collection("conversations")
	messages := db.Collection("messages")

	queueClient := queue.NewClient(cfg)
	defer queueClient.Close()

	storage := services.NewFileStorageManager(cfg)
	docService := services.NewDocumentService(cfg, documents, chunks, storage, queueClient)
	searchService := services.NewHybridSearchService(cfg, chunks, documents)
	queryService := services.NewQueryService(cfg, embedder, llmClient, searchService, documents, conversations, messages, metrics)
	genService := services.NewGenerationService(cfg, llmClient, queryService)
	exportService := services.NewExportService(documents, conversations, messages)

	var tokenService *auth.TokenService
	if cfg.SessionSecret != "" {
		tokenService, err = auth.NewTokenService(cfg.SessionSecret, rdb)
		if err != nil {
			log.Fatal("Failed to initialize session tokens:", err)
		}
	}

	reaper := services.NewReaperService(cfg, documents, chunks)
	if err := reaper.Start(); err != nil {
		log.Fatal("Failed to start reaper:", err)
	}
	defer reaper.Stop()

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.CORSMiddleware(cfg))
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.EnrichTrace())
	router.Use(middleware.MetricsMiddleware(metrics))
	router.Use(middleware.RateLimitMiddleware(rdb, cfg))
	router.Use(middleware.SessionAuthMiddleware(tokenService))

	routes.SetupHealthRoutes(router, mongoClient, rdb, llmClient)
	routes.SetupDocumentRoutes(router, cfg, docService, rdb)
	routes.SetupQueryRoutes(router, queryService)
	routes.SetupGenerateRoutes(router, genService)
	routes.SetupExportRoutes(router, exportService)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	logger.Info("server exited")
}
