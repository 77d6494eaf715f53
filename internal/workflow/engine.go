// Package workflow implements the drug batch approval and shipment state
// machine. Every transition is a conditional write on the record version, so
// two actors racing on the same batch cannot both win.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"pharma-scm-api-server/internal/metrics"
	"pharma-scm-api-server/internal/models"
	"pharma-scm-api-server/internal/store"
)

const (
	DefaultSettlingDelay    = 1500 * time.Millisecond
	DefaultBatchConcurrency = 8
	DefaultRecoveryInterval = 30 * time.Second
	defaultWriteTimeout     = 10 * time.Second
)

// Config tunes the engine. Zero values fall back to the defaults.
type Config struct {
	// SettlingDelay is the wait between Dispatching and In Transit.
	SettlingDelay time.Duration
	// BatchConcurrency bounds parallel dispatches within one batch request.
	BatchConcurrency int
	// WriteTimeout bounds background writes that have no caller context.
	WriteTimeout time.Duration
}

// Observer is told about every successful transition, after it is stored.
// Implementations must not block.
type Observer interface {
	BatchChanged(ctx context.Context, rec models.BatchRecord, ev models.TransitionEvent)
}

// Engine runs workflow operations against a BatchStore.
type Engine struct {
	store     store.BatchStore
	cfg       Config
	logger    *zap.Logger
	metrics   *metrics.Metrics
	observers []Observer
	validate  *validator.Validate
	now       func() time.Time

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// New builds an engine. logger and m may be nil.
func New(s store.BatchStore, cfg Config, logger *zap.Logger, m *metrics.Metrics, observers ...Observer) *Engine {
	if cfg.SettlingDelay <= 0 {
		cfg.SettlingDelay = DefaultSettlingDelay
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = DefaultBatchConcurrency
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	return &Engine{
		store:     s,
		cfg:       cfg,
		logger:    logger.Named("workflow"),
		metrics:   m,
		observers: observers,
		validate:  v,
		now:       func() time.Time { return time.Now().UTC() },
		stop:      make(chan struct{}),
	}
}

// Submission is the manufacturer's batch submission form.
type Submission struct {
	DrugName     string `json:"drugName" validate:"required,max=200"`
	DrugDetails  string `json:"drugDetails" validate:"max=4000"`
	BatchNumber  string `json:"batchNumber" validate:"required,max=100"`
	SampleCount  int    `json:"sampleCount" validate:"gt=0"`
	Temperature  string `json:"temperature" validate:"max=50"`
	Humidity     string `json:"humidity" validate:"max=50"`
	TamperStatus string `json:"tamperStatus" validate:"max=50"`
}

func (s *Submission) normalize() {
	s.DrugName = strings.TrimSpace(s.DrugName)
	s.DrugDetails = strings.TrimSpace(s.DrugDetails)
	s.BatchNumber = strings.TrimSpace(s.BatchNumber)
	s.Temperature = strings.TrimSpace(s.Temperature)
	s.Humidity = strings.TrimSpace(s.Humidity)
	s.TamperStatus = strings.TrimSpace(s.TamperStatus)
}

// Submit creates a Pending batch owned by the calling manufacturer.
func (e *Engine) Submit(ctx context.Context, sess Session, sub Submission) (models.BatchRecord, error) {
	if err := sess.authorize(ActionSubmit, []models.Role{models.RoleManufacturer}); err != nil {
		e.observe(ActionSubmit, err)
		return models.BatchRecord{}, err
	}

	sub.normalize()
	if err := e.validate.Struct(sub); err != nil {
		verr := toValidationError(err)
		e.observe(ActionSubmit, verr)
		return models.BatchRecord{}, verr
	}

	now := e.now()
	name := sess.DisplayName
	if name == "" {
		name = "Unknown Manufacturer"
	}
	rec := models.BatchRecord{
		DrugName:         sub.DrugName,
		DrugDetails:      sub.DrugDetails,
		BatchNumber:      sub.BatchNumber,
		SampleCount:      sub.SampleCount,
		Temperature:      sub.Temperature,
		Humidity:         sub.Humidity,
		TamperStatus:     sub.TamperStatus,
		ManufacturerID:   sess.UserID,
		ManufacturerName: name,
		SubmissionDate:   now,
		Status:           models.StatusPending,
		UpdatedAt:        now,
	}
	ev := models.TransitionEvent{
		Action:    string(ActionSubmit),
		To:        string(models.StatusPending),
		ActorID:   sess.UserID,
		ActorRole: sess.Role,
		At:        now,
	}
	rec.History = []models.TransitionEvent{ev}

	created, err := e.store.Create(ctx, rec)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			err = &ValidationError{Fields: map[string]string{"batchNumber": "already submitted"}}
		} else {
			err = fmt.Errorf("%w: %w", ErrStore, err)
		}
		e.observe(ActionSubmit, err)
		return models.BatchRecord{}, err
	}

	e.observe(ActionSubmit, nil)
	e.logger.Info("Batch submitted",
		zap.String("batchID", created.ID),
		zap.String("batchNumber", created.BatchNumber),
		zap.String("manufacturerID", created.ManufacturerID))
	e.notify(ctx, created, ev)
	return created, nil
}

// Approve moves a Pending batch to Approved and opens its shipment.
func (e *Engine) Approve(ctx context.Context, sess Session, id string) (models.BatchRecord, error) {
	return e.apply(ctx, sess, id, ActionApprove, 0, true)
}

// Reject moves a Pending batch to Rejected.
func (e *Engine) Reject(ctx context.Context, sess Session, id string) (models.BatchRecord, error) {
	return e.apply(ctx, sess, id, ActionReject, 0, true)
}

// Get returns the current record.
func (e *Engine) Get(ctx context.Context, id string) (models.BatchRecord, error) {
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return models.BatchRecord{}, e.storeErr(id, err)
	}
	return rec, nil
}

// apply runs one transition. expectedVersion pins the version the caller
// last observed; zero means the version read here.
func (e *Engine) apply(ctx context.Context, sess Session, id string, action Action, expectedVersion int64, authorize bool) (models.BatchRecord, error) {
	t := transitions[action]
	if authorize {
		if err := sess.authorize(action, t.roles); err != nil {
			e.observe(action, err)
			return models.BatchRecord{}, err
		}
	}

	rec, err := e.store.Get(ctx, id)
	if err != nil {
		err = e.storeErr(id, err)
		e.observe(action, err)
		return models.BatchRecord{}, err
	}
	if expectedVersion != 0 && rec.Version != expectedVersion {
		err = transitionErr(rec, action, true)
		e.observe(action, err)
		return rec, err
	}
	if stateOf(rec) != t.from {
		err = transitionErr(rec, action, false)
		e.observe(action, err)
		return rec, err
	}

	ev := models.TransitionEvent{
		Action:    string(action),
		From:      describe(t.from),
		To:        describe(t.to),
		ActorID:   sess.UserID,
		ActorRole: sess.Role,
		At:        e.now(),
	}
	updated, err := e.store.Update(ctx, id, rec.Version, store.Mutation{
		Status:         t.to.status,
		ShipmentStatus: t.to.shipment,
		Event:          ev,
	})
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			// Report the state that won, if it can be read.
			if current, gerr := e.store.Get(ctx, id); gerr == nil {
				rec = current
			}
			err = transitionErr(rec, action, true)
		} else {
			err = e.storeErr(id, err)
		}
		e.observe(action, err)
		return rec, err
	}

	e.observe(action, nil)
	e.logger.Info("Batch transitioned",
		zap.String("batchID", id),
		zap.String("action", string(action)),
		zap.String("from", ev.From),
		zap.String("to", ev.To),
		zap.String("actor", sess.UserID))
	e.notify(ctx, updated, ev)
	return updated, nil
}

func (e *Engine) notify(ctx context.Context, rec models.BatchRecord, ev models.TransitionEvent) {
	for _, o := range e.observers {
		o.BatchChanged(ctx, rec, ev)
	}
}

func (e *Engine) observe(action Action, err error) {
	e.metrics.ObserveTransition(string(action), Outcome(err))
}

func (e *Engine) storeErr(id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fmt.Errorf("%w: %w", ErrStore, err)
}

// Close waits for in-flight dispatches to settle. When ctx ends first the
// remaining ones are interrupted and left Dispatching for RecoverStale.
func (e *Engine) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.stopOnce.Do(func() { close(e.stop) })
		return nil
	case <-ctx.Done():
		e.stopOnce.Do(func() { close(e.stop) })
		<-done
		return ctx.Err()
	}
}

// Outcome classifies err for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInterrupted):
		return "interrupted"
	default:
		return "error"
	}
}

func transitionErr(rec models.BatchRecord, action Action, conflict bool) error {
	return &TransitionError{
		BatchID:        rec.ID,
		Action:         action,
		Status:         rec.Status,
		ShipmentStatus: rec.ShipmentStatus,
		Conflict:       conflict,
	}
}

func describe(s state) string {
	if s.shipment == models.ShipmentNone {
		return string(s.status)
	}
	return string(s.shipment)
}

func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			fields[fe.Field()] = "is required"
		case "gt":
			fields[fe.Field()] = "must be greater than " + fe.Param()
		case "max":
			fields[fe.Field()] = "must be at most " + fe.Param() + " characters"
		default:
			fields[fe.Field()] = "failed " + fe.Tag()
		}
	}
	return &ValidationError{Fields: fields}
}
