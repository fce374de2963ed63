package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"lorekeeper-platform/internal/llm"
)

// SetupHealthRoutes wires liveness and readiness probes. Readiness
// checks the backing stores and the LLM provider.
func SetupHealthRoutes(router *gin.Engine, mongoClient *mongo.Client, rdb *redis.Client, llmClient llm.Client) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
	})

	router.GET("/health/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		checks := gin.H{}
		healthy := true

		if err := mongoClient.Ping(ctx, nil); err != nil {
			checks["mongo"] = err.Error()
			healthy = false
		} else {
			checks["mongo"] = "ok"
		}

		if err := rdb.Ping(ctx).Err(); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		} else {
			checks["redis"] = "ok"
		}

		if err := llmClient.HealthCheck(ctx); err != nil {
			checks["llm"] = err.Error()
			healthy = false
		} else {
			checks["llm"] = "ok"
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"healthy": healthy, "checks": checks, "timestamp": time.Now()})
	})
}
