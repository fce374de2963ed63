package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI string
	DBName   string
	Port     string
	GinMode  string

	CORSOrigins []string

	// Upload handling
	MaxFileSize    int64
	AllowedTypes   []string
	FileStorageDir string

	// Redis
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Session tokens
	SessionSecret string

	// Rate limiting
	RateLimitReqs   int
	RateLimitWindow int

	// Indexing
	IndexingConcurrency int
	IndexingMaxRetry    int
	// StuckDocumentAge is how long a document may sit in `processing`
	// before the reaper fails it (minutes).
	StuckDocumentAge int

	// Chunking defaults (tokens). Adjustable per deployment.
	ChunkTargetTokens  int
	ChunkOverlapTokens int
	ChunkMinTokens     int

	// Retrieval
	SearchLimit      int
	VectorWeight     float64
	KeywordWeight    float64
	RerankEnabled    bool
	RerankThreshold  float64
	ContextMaxTokens int
	AdaptiveRatio    float64

	// Atlas search indexes on the chunks collection
	SearchIndexName string
	VectorIndexName string

	// Embeddings
	EmbeddingsProvider    string // "ollama" (default), "google"
	EmbeddingsBaseURL     string
	EmbeddingsModel       string
	EmbeddingBatchSize    int
	EmbeddingTimeoutSecs  int
	GoogleEmbeddingsModel string
	GeminiAPIKey          string

	// LLM
	LLMProvider    string // "ollama" (default), "gemini"
	OllamaBaseURL  string
	OllamaModel    string
	GeminiModel    string
	GeminiTier     string
	LLMTimeoutSecs int

	// Telemetry
	OTLPEndpoint string
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017/lorekeeper"),
		DBName:   getEnv("DB_NAME", "lorekeeper"),
		Port:     getEnv("PORT", "8080"),
		GinMode:  getEnv("GIN_MODE", "debug"),

		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173"), ","),

		MaxFileSize:    getEnvInt64("MAX_FILE_SIZE", 52428800), // 50MB
		AllowedTypes:   strings.Split(getEnv("ALLOWED_FILE_TYPES", "application/pdf,text/markdown,text/plain"), ","),
		FileStorageDir: getEnv("FILE_STORAGE_DIR", "./storage"),

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		SessionSecret: getEnv("SESSION_SECRET", ""),

		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),

		IndexingConcurrency: getEnvInt("INDEXING_CONCURRENCY", 4),
		IndexingMaxRetry:    getEnvInt("INDEXING_MAX_RETRY", 3),
		StuckDocumentAge:    getEnvInt("STUCK_DOCUMENT_AGE_MINUTES", 30),

		ChunkTargetTokens:  getEnvInt("CHUNK_TARGET_TOKENS", 128),
		ChunkOverlapTokens: getEnvInt("CHUNK_OVERLAP_TOKENS", 24),
		ChunkMinTokens:     getEnvInt("CHUNK_MIN_TOKENS", 20),

		SearchLimit:      getEnvInt("SEARCH_LIMIT", 8),
		VectorWeight:     getEnvFloat64("VECTOR_WEIGHT", 0.7),
		KeywordWeight:    getEnvFloat64("KEYWORD_WEIGHT", 0.3),
		RerankEnabled:    getEnvBool("RERANK_ENABLED", false),
		RerankThreshold:  getEnvFloat64("RERANK_THRESHOLD", 0.2),
		ContextMaxTokens: getEnvInt("CONTEXT_MAX_TOKENS", 3000),
		AdaptiveRatio:    getEnvFloat64("CONTEXT_ADAPTIVE_RATIO", 0.4),

		SearchIndexName: getEnv("MONGODB_SEARCH_INDEX", "chunks_text"),
		VectorIndexName: getEnv("MONGODB_VECTOR_INDEX", "chunks_vector"),

		EmbeddingsProvider:    getEnv("EMBEDDINGS_PROVIDER", "ollama"),
		EmbeddingsBaseURL:     getEnv("EMBEDDINGS_BASE_URL", "http://localhost:11434/api"),
		EmbeddingsModel:       getEnv("EMBEDDINGS_MODEL", "nomic-embed-text"),
		EmbeddingBatchSize:    getEnvInt("EMBEDDING_BATCH_SIZE", 20),
		EmbeddingTimeoutSecs:  getEnvInt("EMBEDDING_TIMEOUT_SECONDS", 120),
		GoogleEmbeddingsModel: getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),
		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),

		LLMProvider:    getEnv("LLM_PROVIDER", "ollama"),
		OllamaBaseURL:  getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:    getEnv("OLLAMA_MODEL", "llama3.1"),
		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiTier:     getEnv("GEMINI_TIER", "free"),
		LLMTimeoutSecs: getEnvInt("LLM_TIMEOUT_SECONDS", 60),

		OTLPEndpoint: getEnv("OTLP_ENDPOINT", ""),
	}

	if cfg.LLMProvider == "gemini" && cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required when LLM_PROVIDER=gemini")
	}
	if cfg.EmbeddingsProvider == "google" && cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required when EMBEDDINGS_PROVIDER=google")
	}
	if cfg.VectorWeight+cfg.KeywordWeight <= 0 {
		return nil, fmt.Errorf("VECTOR_WEIGHT + KEYWORD_WEIGHT must be positive")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
