// internal/api/handlers/batch_handler.go
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pharma-scm-api-server/internal/api/middleware"
	"pharma-scm-api-server/internal/workflow"
)

type BatchHandler struct {
	Engine *workflow.Engine
}

// SubmitBatch handles a manufacturer's submission for FDA approval.
func (h *BatchHandler) SubmitBatch(c *gin.Context) {
	sess, _ := middleware.Session(c)

	var req workflow.Submission
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.Engine.Submit(c.Request.Context(), sess, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h *BatchHandler) GetBatch(c *gin.Context) {
	rec, err := h.Engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *BatchHandler) ApproveBatch(c *gin.Context) {
	sess, _ := middleware.Session(c)
	rec, err := h.Engine.Approve(c.Request.Context(), sess, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *BatchHandler) RejectBatch(c *gin.Context) {
	sess, _ := middleware.Session(c)
	rec, err := h.Engine.Reject(c.Request.Context(), sess, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}
