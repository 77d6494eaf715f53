package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"pharma-scm-api-server/internal/models"
	"pharma-scm-api-server/internal/store"
)

// View names one of the read-only batch lists the dashboards show.
type View string

const (
	ViewPendingApprovals     View = "pending-approvals"
	ViewAwaitingPickup       View = "awaiting-pickup"
	ViewDistributorShipments View = "distributor-shipments"
	ViewPharmacyInventory    View = "pharmacy-inventory"
	ViewMySubmissions        View = "my-submissions"
	ViewApproved             View = "approved"
	ViewRejected             View = "rejected"
)

// Views lists every known view.
var Views = []View{
	ViewPendingApprovals,
	ViewAwaitingPickup,
	ViewDistributorShipments,
	ViewPharmacyInventory,
	ViewMySubmissions,
	ViewApproved,
	ViewRejected,
}

func (v View) filter(sess Session) (store.Filter, error) {
	approved := []models.ApprovalStatus{models.StatusApproved}
	switch v {
	case ViewPendingApprovals:
		return store.Filter{Statuses: []models.ApprovalStatus{models.StatusPending}}, nil
	case ViewAwaitingPickup:
		return store.Filter{
			Statuses:         approved,
			ShipmentStatuses: []models.ShipmentStatus{models.ShipmentPendingDistributorPickup},
		}, nil
	case ViewDistributorShipments, ViewApproved:
		return store.Filter{Statuses: approved}, nil
	case ViewPharmacyInventory:
		return store.Filter{
			Statuses: approved,
			ShipmentStatuses: []models.ShipmentStatus{
				models.ShipmentInTransitToPharmacy,
				models.ShipmentDeliveredToPharmacy,
			},
		}, nil
	case ViewRejected:
		return store.Filter{Statuses: []models.ApprovalStatus{models.StatusRejected}}, nil
	case ViewMySubmissions:
		if sess.UserID == "" {
			return store.Filter{}, fmt.Errorf("%w: %s needs a signed-in user", ErrForbidden, v)
		}
		return store.Filter{ManufacturerID: sess.UserID}, nil
	}
	return store.Filter{}, &ValidationError{Fields: map[string]string{"view": fmt.Sprintf("unknown view %q", string(v))}}
}

// Query returns the records currently in view, newest submission first.
func (e *Engine) Query(ctx context.Context, sess Session, v View) ([]models.BatchRecord, error) {
	f, err := v.filter(sess)
	if err != nil {
		return nil, err
	}
	records, err := e.store.Find(ctx, f)
	if err != nil {
		return nil, e.storeErr("", err)
	}
	return records, nil
}

// Verification is the answer to a patient's batch lookup.
type Verification struct {
	Found   bool                `json:"found"`
	Record  *models.BatchRecord `json:"record,omitempty"`
	Message string              `json:"message,omitempty"`
}

const notFoundMessage = "No drug found with that batch ID. Please check the ID and try again."

// Verify looks a batch up by its printed batch number. An unknown number is
// a normal answer, not an error. Should duplicates exist the newest
// submission wins.
func (e *Engine) Verify(ctx context.Context, batchNumber string) (Verification, error) {
	batchNumber = strings.TrimSpace(batchNumber)
	if batchNumber == "" {
		return Verification{}, &ValidationError{Fields: map[string]string{"batchNumber": "is required"}}
	}
	records, err := e.store.Find(ctx, store.Filter{BatchNumber: batchNumber, Limit: 1})
	if err != nil {
		return Verification{}, e.storeErr("", err)
	}
	if len(records) == 0 {
		return Verification{Found: false, Message: notFoundMessage}, nil
	}
	rec := records[0]
	return Verification{Found: true, Record: &rec}, nil
}

// Snapshot is the full content of a view at one point in time.
type Snapshot struct {
	View    View                 `json:"view"`
	Records []models.BatchRecord `json:"records"`
	At      time.Time            `json:"at"`
}

// Subscribe streams a snapshot of v now and again whenever a change touches
// it. The channel is closed when ctx ends or the change feed stops.
func (e *Engine) Subscribe(ctx context.Context, sess Session, v View) (<-chan Snapshot, error) {
	f, err := v.filter(sess)
	if err != nil {
		return nil, err
	}
	changes, err := e.store.Changes(ctx)
	if err != nil {
		return nil, e.storeErr("", err)
	}
	initial, err := e.store.Find(ctx, f)
	if err != nil {
		return nil, e.storeErr("", err)
	}

	out := make(chan Snapshot, 1)
	go func() {
		defer close(out)
		inView := idSet(initial)
		if !e.send(ctx, out, Snapshot{View: v, Records: initial, At: e.now()}) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case rec, ok := <-changes:
				if !ok {
					return
				}
				// A change matters if the record enters, stays in or leaves the view.
				if _, was := inView[rec.ID]; !was && !f.Match(rec) {
					continue
				}
				records, err := e.store.Find(ctx, f)
				if err != nil {
					if ctx.Err() == nil {
						e.logger.Warn("Failed to refresh view", zap.String("view", string(v)), zap.Error(err))
					}
					continue
				}
				inView = idSet(records)
				if !e.send(ctx, out, Snapshot{View: v, Records: records, At: e.now()}) {
					return
				}
			}
		}
	}()
	return out, nil
}

func (e *Engine) send(ctx context.Context, out chan<- Snapshot, s Snapshot) bool {
	select {
	case out <- s:
		return true
	case <-ctx.Done():
		return false
	}
}

func idSet(records []models.BatchRecord) map[string]struct{} {
	set := make(map[string]struct{}, len(records))
	for _, r := range records {
		set[r.ID] = struct{}{}
	}
	return set
}
