// internal/api/handlers/view_handler.go
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pharma-scm-api-server/internal/api/middleware"
	"pharma-scm-api-server/internal/workflow"
)

type ViewHandler struct {
	Engine *workflow.Engine
}

// GetView returns the records of a dashboard view, newest first.
func (h *ViewHandler) GetView(c *gin.Context) {
	sess, _ := middleware.Session(c)
	view := workflow.View(c.Param("view"))

	records, err := h.Engine.Query(c.Request.Context(), sess, view)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"view": view, "records": records, "count": len(records)})
}

// VerifyBatch is the public patient lookup by printed batch number.
func (h *ViewHandler) VerifyBatch(c *gin.Context) {
	result, err := h.Engine.Verify(c.Request.Context(), c.Param("batchNumber"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !result.Found {
		c.JSON(http.StatusNotFound, result)
		return
	}
	c.JSON(http.StatusOK, result)
}
