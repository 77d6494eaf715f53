// internal/api/handlers/prediction_handler.go
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pharma-scm-api-server/internal/prediction"
)

type PredictionHandler struct {
	Service *prediction.Service
}

func (h *PredictionHandler) PredictAnomalies(c *gin.Context) {
	if h.Service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Anomaly prediction is not configured"})
		return
	}

	var req prediction.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := h.Service.Predict(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
