package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pharma-scm-api-server/internal/models"
	"pharma-scm-api-server/internal/store"
	"pharma-scm-api-server/internal/store/memory"
	"pharma-scm-api-server/internal/workflow"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const settle = 30 * time.Millisecond

var (
	manufacturer = workflow.Session{UserID: "mfr-1", DisplayName: "PharmaTrust Manufacturing", Role: models.RoleManufacturer}
	otherMfr     = workflow.Session{UserID: "mfr-2", DisplayName: "Generic Labs", Role: models.RoleManufacturer}
	fda          = workflow.Session{UserID: "fda-1", DisplayName: "FDA Reviewer", Role: models.RoleFDA}
	distributor  = workflow.Session{UserID: "dist-1", DisplayName: "Global Pharma Distributors", Role: models.RoleDistributor}
	pharmacy     = workflow.Session{UserID: "pharm-1", DisplayName: "Your Local Pharmacy", Role: models.RolePharmacy}
)

type recordingObserver struct {
	mu     sync.Mutex
	events []models.TransitionEvent
}

func (o *recordingObserver) BatchChanged(_ context.Context, _ models.BatchRecord, ev models.TransitionEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

func (o *recordingObserver) actions() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.events))
	for i, ev := range o.events {
		out[i] = ev.Action
	}
	return out
}

func newEngine(t *testing.T, observers ...workflow.Observer) (*workflow.Engine, *memory.BatchStore) {
	t.Helper()
	s := memory.NewBatchStore()
	e := workflow.New(s, workflow.Config{SettlingDelay: settle}, nil, nil, observers...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, e.Close(ctx))
	})
	return e, s
}

func submission(batchNumber string) workflow.Submission {
	return workflow.Submission{
		DrugName:     "CureAll-500mg",
		DrugDetails:  "Broad spectrum analgesic",
		BatchNumber:  batchNumber,
		SampleCount:  10000,
		Temperature:  "4.5°C",
		Humidity:     "60%",
		TamperStatus: "Intact",
	}
}

func submit(t *testing.T, e *workflow.Engine, batchNumber string) models.BatchRecord {
	t.Helper()
	rec, err := e.Submit(context.Background(), manufacturer, submission(batchNumber))
	require.NoError(t, err)
	return rec
}

func approved(t *testing.T, e *workflow.Engine, batchNumber string) models.BatchRecord {
	t.Helper()
	rec := submit(t, e, batchNumber)
	rec, err := e.Approve(context.Background(), fda, rec.ID)
	require.NoError(t, err)
	return rec
}

func ids(records []models.BatchRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestFullLifecycleScenario(t *testing.T) {
	obs := &recordingObserver{}
	e, _ := newEngine(t, obs)
	ctx := context.Background()

	rec, err := e.Submit(ctx, manufacturer, workflow.Submission{
		DrugName:    "CureAll-500mg",
		BatchNumber: "BATCH-XYZ-123",
		SampleCount: 10000,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Equal(t, models.ShipmentNone, rec.ShipmentStatus)
	assert.Equal(t, manufacturer.UserID, rec.ManufacturerID)
	assert.Equal(t, manufacturer.DisplayName, rec.ManufacturerName)
	assert.False(t, rec.SubmissionDate.IsZero())

	rec, err = e.Approve(ctx, fda, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, rec.Status)
	assert.Equal(t, models.ShipmentPendingDistributorPickup, rec.ShipmentStatus)

	rec, h, err := e.Dispatch(ctx, distributor, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, models.ShipmentDispatching, rec.ShipmentStatus)

	during, err := e.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentDispatching, during.ShipmentStatus)

	final, err := h.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentInTransitToPharmacy, final.ShipmentStatus)

	inventory, err := e.Query(ctx, pharmacy, workflow.ViewPharmacyInventory)
	require.NoError(t, err)
	assert.Contains(t, ids(inventory), rec.ID)

	pending, err := e.Query(ctx, fda, workflow.ViewPendingApprovals)
	require.NoError(t, err)
	assert.NotContains(t, ids(pending), rec.ID)

	require.Len(t, final.History, 4)
	assert.Equal(t, []string{"submit", "approve", "dispatch", "complete-dispatch"}, obs.actions())
	assert.Equal(t, int64(4), final.Version)
}

func TestRejectIsTerminal(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	rec := submit(t, e, "BATCH-R-1")

	rec, err := e.Reject(ctx, fda, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, rec.Status)
	assert.Equal(t, models.ShipmentNone, rec.ShipmentStatus)

	_, err = e.Approve(ctx, fda, rec.ID)
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)
	assert.NotErrorIs(t, err, workflow.ErrConflict)

	var terr *workflow.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, models.StatusRejected, terr.Status)

	after, err := e.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Version, after.Version)
	assert.Equal(t, models.StatusRejected, after.Status)
}

func TestDispositionOnlyFromPending(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	approvedRec := approved(t, e, "BATCH-A")
	rejectedRec := submit(t, e, "BATCH-B")
	rejectedRec, err := e.Reject(ctx, fda, rejectedRec.ID)
	require.NoError(t, err)

	for _, rec := range []models.BatchRecord{approvedRec, rejectedRec} {
		for name, op := range map[string]func(context.Context, workflow.Session, string) (models.BatchRecord, error){
			"approve": e.Approve,
			"reject":  e.Reject,
		} {
			_, err := op(ctx, fda, rec.ID)
			assert.ErrorIs(t, err, workflow.ErrInvalidTransition, "%s on %s", name, rec.Status)

			after, gerr := e.Get(ctx, rec.ID)
			require.NoError(t, gerr)
			assert.Equal(t, rec.Status, after.Status)
			assert.Equal(t, rec.ShipmentStatus, after.ShipmentStatus)
			assert.Equal(t, rec.Version, after.Version)
		}
	}
}

func TestDispatchOnlyFromPendingPickup(t *testing.T) {
	e, s := newEngine(t)
	ctx := context.Background()

	pendingRec := submit(t, e, "BATCH-P")
	_, _, err := e.Dispatch(ctx, distributor, pendingRec.ID)
	assert.ErrorIs(t, err, workflow.ErrInvalidTransition)

	rec := approved(t, e, "BATCH-D")
	rec, h, err := e.Dispatch(ctx, distributor, rec.ID)
	require.NoError(t, err)

	// Dispatching
	_, second, err := e.Dispatch(ctx, distributor, rec.ID)
	assert.ErrorIs(t, err, workflow.ErrInvalidTransition)
	assert.Nil(t, second)

	// In Transit
	_, err = h.Wait(ctx)
	require.NoError(t, err)
	_, _, err = e.Dispatch(ctx, distributor, rec.ID)
	assert.ErrorIs(t, err, workflow.ErrInvalidTransition)

	// Delivered has no workflow trigger; place a record there directly.
	delivered := approved(t, e, "BATCH-DEL")
	_, err = s.Update(ctx, delivered.ID, delivered.Version, store.Mutation{
		Status:         models.StatusApproved,
		ShipmentStatus: models.ShipmentDeliveredToPharmacy,
		Event:          models.TransitionEvent{Action: "test", At: time.Now()},
	})
	require.NoError(t, err)
	_, _, err = e.Dispatch(ctx, distributor, delivered.ID)
	assert.ErrorIs(t, err, workflow.ErrInvalidTransition)
}

func TestRoleChecksAreDistinctFromTransitionErrors(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	rec := submit(t, e, "BATCH-ROLE")

	_, err := e.Approve(ctx, manufacturer, rec.ID)
	require.ErrorIs(t, err, workflow.ErrForbidden)
	assert.NotErrorIs(t, err, workflow.ErrInvalidTransition)

	_, err = e.Reject(ctx, distributor, rec.ID)
	assert.ErrorIs(t, err, workflow.ErrForbidden)

	_, err = e.Submit(ctx, fda, submission("BATCH-FDA"))
	assert.ErrorIs(t, err, workflow.ErrForbidden)

	rec, err = e.Approve(ctx, fda, rec.ID)
	require.NoError(t, err)

	_, _, err = e.Dispatch(ctx, fda, rec.ID)
	assert.ErrorIs(t, err, workflow.ErrForbidden)
	_, _, err = e.Dispatch(ctx, workflow.Session{Role: models.RoleDistributor}, rec.ID)
	assert.ErrorIs(t, err, workflow.ErrForbidden, "anonymous session")

	after, err := e.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentPendingDistributorPickup, after.ShipmentStatus)
}

func TestShipmentStatusAbsentUnlessApproved(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	submit(t, e, "BATCH-S1")
	rejected := submit(t, e, "BATCH-S2")
	_, err := e.Reject(ctx, fda, rejected.ID)
	require.NoError(t, err)
	approved(t, e, "BATCH-S3")

	for _, v := range []workflow.View{workflow.ViewPendingApprovals, workflow.ViewRejected} {
		records, err := e.Query(ctx, fda, v)
		require.NoError(t, err)
		for _, r := range records {
			assert.NotEqual(t, models.StatusApproved, r.Status)
			assert.Equal(t, models.ShipmentNone, r.ShipmentStatus, "batch %s", r.BatchNumber)
		}
	}
}

func TestConcurrentDispositionsOnlyOneWins(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	rec := submit(t, e, "BATCH-RACE")

	const attempts = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []models.ApprovalStatus
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(approve bool) {
			defer wg.Done()
			op := e.Reject
			if approve {
				op = e.Approve
			}
			got, err := op(ctx, fda, rec.ID)
			if err != nil {
				assert.ErrorIs(t, err, workflow.ErrInvalidTransition)
				return
			}
			mu.Lock()
			wins = append(wins, got.Status)
			mu.Unlock()
		}(i%2 == 0)
	}
	wg.Wait()

	require.Len(t, wins, 1)
	final, err := e.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, wins[0], final.Status)
	assert.Equal(t, int64(2), final.Version)
}

func TestDispatchBatchOutcomesAreIndependent(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	a := approved(t, e, "BATCH-1")
	b := approved(t, e, "BATCH-2")
	pending := submit(t, e, "BATCH-3")

	outcomes := e.DispatchBatch(ctx, distributor, []string{a.ID, "missing", pending.ID, b.ID})
	require.Len(t, outcomes, 4)

	assert.NoError(t, outcomes[0].Err)
	assert.ErrorIs(t, outcomes[1].Err, workflow.ErrNotFound)
	assert.ErrorIs(t, outcomes[2].Err, workflow.ErrInvalidTransition)
	assert.NoError(t, outcomes[3].Err)
	assert.Nil(t, outcomes[1].Handle)
	assert.Nil(t, outcomes[2].Handle)

	workflow.WaitAll(ctx, outcomes)
	for _, i := range []int{0, 3} {
		require.NoError(t, outcomes[i].Err)
		assert.Equal(t, models.ShipmentInTransitToPharmacy, outcomes[i].Record.ShipmentStatus)
	}

	still, err := e.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, still.Status)
}

func TestWaitAllWithExpiredContextKeepsSettlingDispatches(t *testing.T) {
	e := workflow.New(memory.NewBatchStore(), workflow.Config{SettlingDelay: 300 * time.Millisecond}, nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, e.Close(ctx))
	})
	ctx := context.Background()

	a := approved(t, e, "BATCH-W1")
	b := approved(t, e, "BATCH-W2")
	outcomes := e.DispatchBatch(ctx, distributor, []string{a.ID, b.ID})

	expired, cancel := context.WithCancel(ctx)
	cancel()
	workflow.WaitAll(expired, outcomes)
	for _, o := range outcomes {
		require.NoError(t, o.Err)
		assert.True(t, o.Pending)
		assert.Equal(t, models.ShipmentDispatching, o.Record.ShipmentStatus)
	}

	workflow.WaitAll(ctx, outcomes)
	for _, o := range outcomes {
		require.NoError(t, o.Err)
		assert.False(t, o.Pending)
		assert.Equal(t, models.ShipmentInTransitToPharmacy, o.Record.ShipmentStatus)
	}
}

func TestWaitAllReportsSettledDispatchesAfterContextEnds(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	var records []models.BatchRecord
	for i := 0; i < 40; i++ {
		records = append(records, approved(t, e, fmt.Sprintf("BATCH-S%02d", i)))
	}
	outcomes := e.DispatchBatch(ctx, distributor, ids(records))
	for _, o := range outcomes {
		require.NotNil(t, o.Handle)
		<-o.Handle.Done()
	}

	expired, cancel := context.WithCancel(ctx)
	cancel()
	workflow.WaitAll(expired, outcomes)
	for _, o := range outcomes {
		require.NoError(t, o.Err, o.BatchID)
		assert.False(t, o.Pending)
		assert.Equal(t, models.ShipmentInTransitToPharmacy, o.Record.ShipmentStatus)
	}

	rec, err := outcomes[0].Handle.Wait(expired)
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentInTransitToPharmacy, rec.ShipmentStatus)
}

func TestRollbackDuringSettlingWinsOverCompletion(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	rec := approved(t, e, "BATCH-RB")

	_, h, err := e.Dispatch(ctx, distributor, rec.ID)
	require.NoError(t, err)

	rolled, err := e.RecoverDispatch(ctx, distributor, rec.ID, true)
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentPendingDistributorPickup, rolled.ShipmentStatus)

	_, err = h.Wait(ctx)
	assert.ErrorIs(t, err, workflow.ErrConflict)

	after, err := e.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentPendingDistributorPickup, after.ShipmentStatus)
}

func TestRecoverDispatchRequiresDispatching(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	rec := approved(t, e, "BATCH-RC")

	_, err := e.RecoverDispatch(ctx, distributor, rec.ID, false)
	assert.ErrorIs(t, err, workflow.ErrInvalidTransition)

	_, err = e.RecoverDispatch(ctx, pharmacy, rec.ID, false)
	assert.ErrorIs(t, err, workflow.ErrForbidden)
}

func TestSubmitValidation(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	_, err := e.Submit(ctx, manufacturer, workflow.Submission{DrugName: "  ", BatchNumber: "B-1"})
	require.ErrorIs(t, err, workflow.ErrValidation)
	var verr *workflow.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "drugName")
	assert.Contains(t, verr.Fields, "sampleCount")

	submit(t, e, "B-DUP")
	_, err = e.Submit(ctx, otherMfr, submission("B-DUP"))
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "already submitted", verr.Fields["batchNumber"])

	all, err := e.Query(ctx, fda, workflow.ViewPendingApprovals)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestVerify(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	rec := submit(t, e, "BATCH-XYZ-123")

	got, err := e.Verify(ctx, " BATCH-XYZ-123 ")
	require.NoError(t, err)
	require.True(t, got.Found)
	assert.Equal(t, rec.ID, got.Record.ID)

	got, err = e.Verify(ctx, "BATCH-UNKNOWN")
	require.NoError(t, err)
	assert.False(t, got.Found)
	assert.Nil(t, got.Record)
	assert.NotEmpty(t, got.Message)

	_, err = e.Verify(ctx, "")
	assert.ErrorIs(t, err, workflow.ErrValidation)
}

func TestViews(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	mine := submit(t, e, "V-1")
	theirs, err := e.Submit(ctx, otherMfr, submission("V-2"))
	require.NoError(t, err)
	pickup := approved(t, e, "V-3")
	shipped := approved(t, e, "V-4")
	_, h, err := e.Dispatch(ctx, distributor, shipped.ID)
	require.NoError(t, err)
	_, err = h.Wait(ctx)
	require.NoError(t, err)

	cases := []struct {
		view workflow.View
		sess workflow.Session
		want []string
	}{
		{workflow.ViewPendingApprovals, fda, []string{mine.ID, theirs.ID}},
		{workflow.ViewAwaitingPickup, distributor, []string{pickup.ID}},
		{workflow.ViewDistributorShipments, distributor, []string{pickup.ID, shipped.ID}},
		{workflow.ViewPharmacyInventory, pharmacy, []string{shipped.ID}},
		{workflow.ViewMySubmissions, otherMfr, []string{theirs.ID}},
	}
	for _, tc := range cases {
		t.Run(string(tc.view), func(t *testing.T) {
			got, err := e.Query(ctx, tc.sess, tc.view)
			require.NoError(t, err)
			assert.ElementsMatch(t, tc.want, ids(got))
		})
	}

	_, err = e.Query(ctx, fda, workflow.View("everything"))
	assert.ErrorIs(t, err, workflow.ErrValidation)
}

func TestSubscribeDeliversSnapshotsOnChange(t *testing.T) {
	e, _ := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	rec := submit(t, e, "BATCH-LIVE")

	snapshots, err := e.Subscribe(ctx, distributor, workflow.ViewAwaitingPickup)
	require.NoError(t, err)

	first := receive(t, snapshots)
	assert.Empty(t, first.Records)

	_, err = e.Approve(context.Background(), fda, rec.ID)
	require.NoError(t, err)

	next := receive(t, snapshots)
	assert.Equal(t, []string{rec.ID}, ids(next.Records))

	cancel()
	for range snapshots {
	}
}

func receive(t *testing.T, ch <-chan workflow.Snapshot) workflow.Snapshot {
	t.Helper()
	select {
	case s, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return workflow.Snapshot{}
}

func TestOutcome(t *testing.T) {
	cases := map[string]error{
		"ok":                 nil,
		"invalid":            &workflow.ValidationError{Fields: map[string]string{"x": "y"}},
		"forbidden":          workflow.ErrForbidden,
		"conflict":           &workflow.TransitionError{Conflict: true},
		"invalid_transition": &workflow.TransitionError{},
		"not_found":          workflow.ErrNotFound,
		"error":              errors.New("boom"),
	}
	for want, err := range cases {
		assert.Equal(t, want, workflow.Outcome(err))
	}
}
