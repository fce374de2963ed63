package routes

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"lorekeeper-platform/internal/config"
	"lorekeeper-platform/models"
	"lorekeeper-platform/services"
	"lorekeeper-platform/utils"
)

// SetupDocumentRoutes wires the document lifecycle endpoints.
func SetupDocumentRoutes(router *gin.Engine, cfg *config.Config, docs *services.DocumentService, rdb *redis.Client) {
	group := router.Group("/campaigns/:id/documents")

	group.POST("", func(c *gin.Context) {
		campaignID := c.Param("id")

		if err := c.Request.ParseMultipartForm(cfg.MaxFileSize); err != nil {
			utils.RespondWithBadRequest(c, "file_too_large", "File size exceeds maximum limit")
			return
		}

		file, header, err := c.Request.FormFile("file")
		if err != nil {
			utils.RespondWithBadRequest(c, "no_file", "No file provided")
			return
		}
		defer file.Close()

		opts := services.UploadOptions{
			Name:         c.PostForm("name"),
			DocumentType: c.PostForm("document_type"),
			Tags:         splitTags(c.PostForm("tags")),
		}

		resp, err := docs.Upload(c.Request.Context(), campaignID, file, header, opts)
		if err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, resp)
	})

	group.GET("", func(c *gin.Context) {
		list, err := docs.List(c.Request.Context(), c.Param("id"), c.Query("status"), c.Query("type"))
		if err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"documents": list, "count": len(list)})
	})

	group.GET("/:docID", func(c *gin.Context) {
		doc, err := docs.Get(c.Request.Context(), c.Param("id"), c.Param("docID"))
		if err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		if c.Query("include_content") == "true" {
			if text, ok := services.CachedContent(doc); ok {
				c.JSON(http.StatusOK, gin.H{"document": doc, "content": text})
				return
			}
		}
		c.JSON(http.StatusOK, doc)
	})

	// Progress stream: forwards indexing progress updates as SSE until
	// the document reaches 100% or the client disconnects.
	group.GET("/:docID/progress", func(c *gin.Context) {
		doc, err := docs.Get(c.Request.Context(), c.Param("id"), c.Param("docID"))
		if err != nil {
			utils.RespondWithAppError(c, err)
			return
		}

		flusher, ok := c.Writer.(http.Flusher)
		if !ok {
			utils.RespondWithInternalError(c, "streaming_unsupported", "Streaming not supported")
			return
		}

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")

		// Current state first so late subscribers see where things stand.
		writeSSE(c, flusher, "progress", services.ProgressUpdate{
			Percentage: doc.Progress,
			Message:    doc.ProgressMessage,
		})
		if doc.Progress >= 100 || doc.Status == models.StatusReady || doc.Status == models.StatusFailed {
			return
		}

		sub := rdb.Subscribe(c.Request.Context(), "indexing:progress:"+doc.ID)
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-c.Request.Context().Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var update services.ProgressUpdate
				if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
					continue
				}
				writeSSE(c, flusher, "progress", update)
				if update.Percentage >= 100 {
					return
				}
			}
		}
	})

	group.DELETE("/:docID", func(c *gin.Context) {
		if err := docs.Delete(c.Request.Context(), c.Param("id"), c.Param("docID")); err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Document deleted"})
	})
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}
