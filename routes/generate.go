package routes

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"lorekeeper-platform/models"
	"lorekeeper-platform/services"
	"lorekeeper-platform/utils"
)

// SetupGenerateRoutes wires hook and NPC generation. Clients accepting
// text/event-stream get incremental SSE; everyone else gets the
// aggregated JSON once generation finishes.
func SetupGenerateRoutes(router *gin.Engine, gen *services.GenerationService) {
	router.POST("/campaigns/:id/generate/hooks", generateHandler(gen, services.GenerateHooks))
	router.POST("/campaigns/:id/generate/npcs", generateHandler(gen, services.GenerateNPCs))
}

func generateHandler(gen *services.GenerationService, kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.GenerateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "invalid_input", "Invalid generation parameters")
			return
		}

		events := gen.Generate(c.Request.Context(), kind, c.Param("id"), req)

		if wantsEventStream(c) {
			streamEvents(c, events)
			return
		}
		aggregateEvents(c, events)
	}
}

func wantsEventStream(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "text/event-stream")
}

func streamEvents(c *gin.Context, events <-chan models.GenerationEvent) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		utils.RespondWithInternalError(c, "streaming_unsupported", "Streaming not supported")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	for event := range events {
		writeSSE(c, flusher, event.Type, event)
	}
}

// aggregateEvents drains the stream and answers with one JSON body.
func aggregateEvents(c *gin.Context, events <-chan models.GenerationEvent) {
	var (
		hooks    []models.AdventureHook
		npcs     []models.NPC
		complete *models.GenerationEvent
		failure  *models.GenerationEvent
	)

	for event := range events {
		e := event
		switch e.Type {
		case models.EventHook:
			if e.Hook != nil {
				hooks = append(hooks, *e.Hook)
			}
		case models.EventNPC:
			if e.NPC != nil {
				npcs = append(npcs, *e.NPC)
			}
		case models.EventComplete:
			complete = &e
		case models.EventError:
			failure = &e
		}
	}

	if failure != nil {
		status := failure.StatusCode
		if status == 0 {
			status = http.StatusInternalServerError
		}
		utils.RespondWithError(c, status, strings.ToLower(failure.Error), failure.Message, nil)
		return
	}

	resp := gin.H{}
	if hooks != nil {
		resp["hooks"] = hooks
	}
	if npcs != nil {
		resp["npcs"] = npcs
	}
	if complete != nil {
		resp["sources"] = complete.Sources
		resp["chunks_used"] = complete.ChunksUsed
		if complete.Usage != nil {
			resp["usage"] = complete.Usage
		}
	}
	c.JSON(http.StatusOK, resp)
}
