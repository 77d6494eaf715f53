package workflow

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"pharma-scm-api-server/internal/models"
)

var (
	// ErrValidation marks malformed or missing input. No state was written.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden marks an actor whose role may not perform the operation.
	ErrForbidden = errors.New("operation not permitted for role")
	// ErrInvalidTransition marks a record that is not in the prior state the
	// operation requires.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrConflict marks a transition that lost a concurrent write on the same
	// record. It always also matches ErrInvalidTransition.
	ErrConflict = errors.New("concurrent modification")
	// ErrNotFound marks an unknown batch id.
	ErrNotFound = errors.New("batch not found")
	// ErrStore marks a failed read or write against the document store.
	ErrStore = errors.New("store failure")
	// ErrInterrupted is reported by a dispatch handle whose settling phase was
	// cut short by engine shutdown. The record stays Dispatching.
	ErrInterrupted = errors.New("dispatch interrupted")
)

// ValidationError lists the offending fields of a submission.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + ": " + e.Fields[name]
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// TransitionError reports the state a record was in when an operation was
// refused.
type TransitionError struct {
	BatchID        string
	Action         Action
	Status         models.ApprovalStatus
	ShipmentStatus models.ShipmentStatus
	Conflict       bool
}

func (e *TransitionError) Error() string {
	state := string(e.Status)
	if e.ShipmentStatus != models.ShipmentNone {
		state += "/" + string(e.ShipmentStatus)
	}
	if e.Conflict {
		return fmt.Sprintf("cannot %s batch %s: modified concurrently (now %s)", e.Action, e.BatchID, state)
	}
	return fmt.Sprintf("cannot %s batch %s in state %s", e.Action, e.BatchID, state)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition || (e.Conflict && target == ErrConflict)
}
