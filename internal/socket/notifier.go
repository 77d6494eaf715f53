package socket

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"pharma-scm-api-server/internal/models"
)

// Notification tells a manufacturer that one of their batches moved.
type Notification struct {
	Type           string                `json:"type"`
	BatchID        string                `json:"batchId"`
	BatchNumber    string                `json:"batchNumber"`
	DrugName       string                `json:"drugName"`
	Action         string                `json:"action"`
	Status         models.ApprovalStatus `json:"status"`
	ShipmentStatus models.ShipmentStatus `json:"shipmentStatus,omitempty"`
	At             time.Time             `json:"at"`
}

// notifyActions are the transitions a manufacturer hears about.
var notifyActions = map[string]bool{
	"approve":           true,
	"reject":            true,
	"dispatch":          true,
	"complete-dispatch": true,
}

// Notifier pushes batch updates to the owning manufacturer's connections.
type Notifier struct {
	hub    *Hub
	logger *zap.Logger
}

func NewNotifier(hub *Hub) *Notifier {
	return &Notifier{hub: hub, logger: hub.logger}
}

func (n *Notifier) BatchChanged(_ context.Context, rec models.BatchRecord, ev models.TransitionEvent) {
	if !notifyActions[ev.Action] || rec.ManufacturerID == "" {
		return
	}
	msg, err := json.Marshal(Notification{
		Type:           "batch.updated",
		BatchID:        rec.ID,
		BatchNumber:    rec.BatchNumber,
		DrugName:       rec.DrugName,
		Action:         ev.Action,
		Status:         rec.Status,
		ShipmentStatus: rec.ShipmentStatus,
		At:             ev.At,
	})
	if err != nil {
		n.logger.Error("Failed to encode notification", zap.Error(err))
		return
	}
	n.hub.Send(rec.ManufacturerID, msg)
}
