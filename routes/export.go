package routes

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"lorekeeper-platform/services"
	"lorekeeper-platform/utils"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// SetupExportRoutes wires the campaign workbook download.
func SetupExportRoutes(router *gin.Engine, export *services.ExportService) {
	router.GET("/campaigns/:id/export", func(c *gin.Context) {
		data, filename, err := export.ExportCampaign(c.Request.Context(), c.Param("id"))
		if err != nil {
			utils.RespondWithAppError(c, err)
			return
		}

		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		c.Data(http.StatusOK, xlsxContentType, data)
	})
}
