package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"pharma-scm-api-server/internal/prediction"
	"pharma-scm-api-server/internal/workflow"
)

// statusFor maps workflow and prediction errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, workflow.ErrValidation), errors.Is(err, prediction.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, workflow.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, workflow.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, prediction.ErrUnavailable), errors.Is(err, workflow.ErrInterrupted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorBody builds the JSON error payload. Server errors are not echoed.
func errorBody(err error) (int, gin.H) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()}

	var verr *workflow.ValidationError
	if errors.As(err, &verr) {
		body["fields"] = verr.Fields
	}
	var terr *workflow.TransitionError
	if errors.As(err, &terr) {
		body["status"] = terr.Status
		if terr.ShipmentStatus != "" {
			body["shipmentStatus"] = terr.ShipmentStatus
		}
	}
	switch {
	case errors.Is(err, prediction.ErrUnavailable):
		body["error"] = "Failed to get prediction from AI."
	case status == http.StatusInternalServerError:
		body["error"] = "Internal server error"
	}
	return status, body
}

func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	status, body := errorBody(err)
	c.AbortWithStatusJSON(status, body)
}
