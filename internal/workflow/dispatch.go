package workflow

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pharma-scm-api-server/internal/models"
	"pharma-scm-api-server/internal/store"
)

// DispatchHandle tracks the settling phase of one dispatch.
type DispatchHandle struct {
	BatchID string

	done chan struct{}
	rec  models.BatchRecord
	err  error
}

func newDispatchHandle(id string) *DispatchHandle {
	return &DispatchHandle{BatchID: id, done: make(chan struct{})}
}

func (h *DispatchHandle) finish(rec models.BatchRecord, err error) {
	h.rec, h.err = rec, err
	close(h.done)
}

// Done is closed once the batch is In Transit or the settling write failed.
func (h *DispatchHandle) Done() <-chan struct{} { return h.done }

// Settled reports whether the settling phase has ended.
func (h *DispatchHandle) Settled() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the settling phase ends or ctx is done. A phase that has
// already ended is reported even if ctx is done too.
func (h *DispatchHandle) Wait(ctx context.Context) (models.BatchRecord, error) {
	if h.Settled() {
		return h.rec, h.err
	}
	select {
	case <-h.done:
		return h.rec, h.err
	case <-ctx.Done():
		if h.Settled() {
			return h.rec, h.err
		}
		return models.BatchRecord{}, ctx.Err()
	}
}

// Dispatch hands an approved batch to the distributor. The Dispatching write
// happens before Dispatch returns; the move to In Transit follows after the
// settling delay and is reported through the handle.
func (e *Engine) Dispatch(ctx context.Context, sess Session, id string) (models.BatchRecord, *DispatchHandle, error) {
	rec, err := e.apply(ctx, sess, id, ActionDispatch, 0, true)
	if err != nil {
		return rec, nil, err
	}

	h := newDispatchHandle(id)
	e.wg.Add(1)
	go e.settle(sess, rec, h)
	return rec, h, nil
}

func (e *Engine) settle(sess Session, rec models.BatchRecord, h *DispatchHandle) {
	defer e.wg.Done()
	started := time.Now()

	timer := time.NewTimer(e.cfg.SettlingDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-e.stop:
		e.logger.Warn("Dispatch interrupted before settling", zap.String("batchID", rec.ID))
		h.finish(rec, ErrInterrupted)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.WriteTimeout)
	defer cancel()
	final, err := e.apply(ctx, sess, rec.ID, ActionCompleteDispatch, rec.Version, false)
	if err != nil {
		e.logger.Error("Failed to settle dispatch", zap.String("batchID", rec.ID), zap.Error(err))
	} else {
		e.metrics.ObserveSettle(time.Since(started))
	}
	h.finish(final, err)
}

// DispatchOutcome is the per-record result of a batch dispatch. Handle is
// nil when the first phase failed. Pending is set by WaitAll when the record
// was still settling as the wait ended; Record then holds the Dispatching
// write.
type DispatchOutcome struct {
	BatchID string
	Record  models.BatchRecord
	Handle  *DispatchHandle
	Err     error
	Pending bool
}

// DispatchBatch dispatches each id independently. One failure never rolls
// back or blocks the others; outcomes keep the order of ids.
func (e *Engine) DispatchBatch(ctx context.Context, sess Session, ids []string) []DispatchOutcome {
	outcomes := make([]DispatchOutcome, len(ids))

	var g errgroup.Group
	g.SetLimit(e.cfg.BatchConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			rec, h, err := e.Dispatch(ctx, sess, id)
			outcomes[i] = DispatchOutcome{BatchID: id, Record: rec, Handle: h, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// WaitAll waits for every started settling phase in outcomes and records its
// result in place. Outcomes still settling when ctx ends are marked Pending,
// not failed.
func WaitAll(ctx context.Context, outcomes []DispatchOutcome) {
	for i := range outcomes {
		h := outcomes[i].Handle
		if h == nil {
			continue
		}
		rec, err := h.Wait(ctx)
		switch {
		case err == nil:
			outcomes[i].Record = rec
			outcomes[i].Pending = false
		case !h.Settled():
			outcomes[i].Pending = true
		default:
			outcomes[i].Err = err
		}
	}
}

// RecoverDispatch resolves a batch stuck in Dispatching, either finishing the
// move to In Transit or returning it to the pickup queue.
func (e *Engine) RecoverDispatch(ctx context.Context, sess Session, id string, rollback bool) (models.BatchRecord, error) {
	action := ActionCompleteDispatch
	if rollback {
		action = ActionRollbackDispatch
	}
	return e.apply(ctx, sess, id, action, 0, true)
}

// RecoverStale completes every dispatch that has been Dispatching for longer
// than olderThan, which must exceed the settling delay. It returns how many
// records were moved to In Transit.
func (e *Engine) RecoverStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= e.cfg.SettlingDelay {
		olderThan = 2 * e.cfg.SettlingDelay
	}
	stale, err := e.store.Find(ctx, store.Filter{
		Statuses:         []models.ApprovalStatus{models.StatusApproved},
		ShipmentStatuses: []models.ShipmentStatus{models.ShipmentDispatching},
		UpdatedBefore:    e.now().Add(-olderThan),
	})
	if err != nil {
		return 0, e.storeErr("", err)
	}

	recovered := 0
	for _, rec := range stale {
		_, err := e.apply(ctx, systemSession, rec.ID, ActionCompleteDispatch, rec.Version, false)
		switch {
		case err == nil:
			recovered++
		case errors.Is(err, ErrInvalidTransition):
			// Settled or rolled back since the query ran.
		default:
			return recovered, err
		}
	}
	if recovered > 0 {
		e.logger.Info("Recovered stale dispatches", zap.Int("count", recovered))
	}
	return recovered, nil
}

// RunRecovery calls RecoverStale every interval until ctx is done.
func (e *Engine) RunRecovery(ctx context.Context, interval, olderThan time.Duration) {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.RecoverStale(ctx, olderThan); err != nil && ctx.Err() == nil {
				e.logger.Error("Stale dispatch recovery failed", zap.Error(err))
			}
		}
	}
}
