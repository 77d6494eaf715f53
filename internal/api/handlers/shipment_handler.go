// internal/api/handlers/shipment_handler.go
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"pharma-scm-api-server/internal/api/middleware"
	"pharma-scm-api-server/internal/models"
	"pharma-scm-api-server/internal/workflow"
)

const defaultWaitTimeout = 10 * time.Second

type ShipmentHandler struct {
	Engine *workflow.Engine
	// WaitTimeout bounds ?wait=true requests.
	WaitTimeout time.Duration
}

type DispatchBatchRequest struct {
	BatchIDs []string `json:"batchIds" binding:"required,min=1,max=100,dive,required"`
	Wait     bool     `json:"wait"`
}

type RecoverDispatchRequest struct {
	Rollback bool `json:"rollback"`
}

// DispatchResult is one entry of a batch dispatch response.
type DispatchResult struct {
	BatchID string              `json:"batchId"`
	Record  *models.BatchRecord `json:"record,omitempty"`
	Error   string              `json:"error,omitempty"`
	Code    int                 `json:"code"`
	// Pending marks a dispatch still settling when the wait ended.
	Pending bool `json:"pending,omitempty"`
}

// DispatchBatch hands one approved batch to the distributor. The response
// shows Dispatching unless wait=true, in which case it waits for In Transit.
func (h *ShipmentHandler) DispatchBatch(c *gin.Context) {
	sess, _ := middleware.Session(c)
	wait, _ := strconv.ParseBool(c.Query("wait"))

	rec, handle, err := h.Engine.Dispatch(c.Request.Context(), sess, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !wait {
		c.JSON(http.StatusAccepted, rec)
		return
	}

	ctx, cancel := h.waitContext(c.Request.Context())
	defer cancel()
	final, err := handle.Wait(ctx)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, final)
	case ctx.Err() != nil:
		// Still settling; report what was written.
		c.JSON(http.StatusAccepted, rec)
	default:
		respondError(c, err)
	}
}

// DispatchMany dispatches several batches independently and reports each.
func (h *ShipmentHandler) DispatchMany(c *gin.Context) {
	sess, _ := middleware.Session(c)

	var req DispatchBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcomes := h.Engine.DispatchBatch(c.Request.Context(), sess, req.BatchIDs)
	if req.Wait {
		ctx, cancel := h.waitContext(c.Request.Context())
		defer cancel()
		workflow.WaitAll(ctx, outcomes)
	}

	results := make([]DispatchResult, len(outcomes))
	succeeded := 0
	for i, o := range outcomes {
		results[i] = DispatchResult{BatchID: o.BatchID, Code: http.StatusAccepted, Pending: o.Pending}
		if o.Err != nil {
			results[i].Code, _ = errorBody(o.Err)
			results[i].Error = o.Err.Error()
			continue
		}
		rec := o.Record
		results[i].Record = &rec
		if rec.ShipmentStatus == models.ShipmentInTransitToPharmacy {
			results[i].Code = http.StatusOK
		}
		succeeded++
	}
	c.JSON(http.StatusOK, gin.H{
		"results":   results,
		"succeeded": succeeded,
		"failed":    len(results) - succeeded,
	})
}

// RecoverDispatch completes or rolls back a batch stuck in Dispatching.
func (h *ShipmentHandler) RecoverDispatch(c *gin.Context) {
	sess, _ := middleware.Session(c)

	var req RecoverDispatchRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	rec, err := h.Engine.RecoverDispatch(c.Request.Context(), sess, c.Param("id"), req.Rollback)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *ShipmentHandler) waitContext(parent context.Context) (context.Context, context.CancelFunc) {
	timeout := h.WaitTimeout
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}
	return context.WithTimeout(parent, timeout)
}
