package blockchain

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"pharma-scm-api-server/internal/models"
)

const recordFunction = "RecordBatchEvent"

// Submitter submits a chaincode transaction. *gateway.Contract satisfies it.
type Submitter interface {
	SubmitTransaction(name string, args ...string) ([]byte, error)
}

// BatchEvent is the payload anchored on the ledger for each transition.
type BatchEvent struct {
	BatchID     string      `json:"batchId"`
	BatchNumber string      `json:"batchNumber"`
	Action      string      `json:"action"`
	From        string      `json:"from"`
	To          string      `json:"to"`
	ActorID     string      `json:"actorId"`
	ActorRole   models.Role `json:"actorRole"`
	Version     int64       `json:"version"`
	At          time.Time   `json:"at"`
}

// Recorder anchors workflow transitions on the ledger in the background.
// When its queue is full new events are dropped and logged.
type Recorder struct {
	contract Submitter
	queue    chan BatchEvent
	logger   *zap.Logger
}

func NewRecorder(contract Submitter, queueSize int, logger *zap.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		contract: contract,
		queue:    make(chan BatchEvent, queueSize),
		logger:   logger.Named("ledger"),
	}
}

// BatchChanged queues ev for submission without blocking.
func (r *Recorder) BatchChanged(_ context.Context, rec models.BatchRecord, ev models.TransitionEvent) {
	e := BatchEvent{
		BatchID:     rec.ID,
		BatchNumber: rec.BatchNumber,
		Action:      ev.Action,
		From:        ev.From,
		To:          ev.To,
		ActorID:     ev.ActorID,
		ActorRole:   ev.ActorRole,
		Version:     rec.Version,
		At:          ev.At,
	}
	select {
	case r.queue <- e:
	default:
		r.logger.Warn("Ledger queue full, dropping event",
			zap.String("batchID", rec.ID), zap.String("action", ev.Action))
	}
}

// Run submits queued events until ctx is done, then drains what is left.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case e := <-r.queue:
			r.submit(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-r.queue:
					r.submit(e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) submit(e BatchEvent) {
	payload, err := json.Marshal(e)
	if err != nil {
		r.logger.Error("Failed to encode ledger event", zap.Error(err))
		return
	}
	if _, err := r.contract.SubmitTransaction(recordFunction, e.BatchID, string(payload)); err != nil {
		r.logger.Error("Failed to anchor batch event",
			zap.String("batchID", e.BatchID),
			zap.String("action", e.Action),
			zap.Error(err))
		return
	}
	r.logger.Debug("Batch event anchored", zap.String("batchID", e.BatchID), zap.String("action", e.Action))
}
