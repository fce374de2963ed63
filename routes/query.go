package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"lorekeeper-platform/internal/apperrors"
	"lorekeeper-platform/internal/logger"
	"lorekeeper-platform/models"
	"lorekeeper-platform/services"
	"lorekeeper-platform/utils"
)

// SetupQueryRoutes wires the question answering endpoint.
func SetupQueryRoutes(router *gin.Engine, query *services.QueryService) {
	router.POST("/campaigns/:id/query", func(c *gin.Context) {
		var req models.QueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "invalid_input", "Query must be between 1 and 2000 characters")
			return
		}

		resp, err := query.Answer(c.Request.Context(), c.Param("id"), req)
		if err != nil {
			code := apperrors.CodeOf(err)
			switch code {
			case apperrors.CodeInvalidQuery, apperrors.CodeNotFound:
				utils.RespondWithAppError(c, err)
			default:
				logger.Error("query failed",
					"campaign_id", c.Param("id"),
					"code", string(code),
					"error", err,
				)
				utils.RespondWithInternalError(c, "query_failed", "Failed to process query")
			}
			return
		}

		c.JSON(http.StatusOK, resp)
	})
}
