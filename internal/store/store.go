// Package store defines the persistence contracts the workflow engine runs on.
package store

import (
	"context"
	"errors"
	"slices"
	"time"

	"pharma-scm-api-server/internal/models"
)

var (
	// ErrNotFound is returned when no document has the requested id.
	ErrNotFound = errors.New("document not found")
	// ErrVersionConflict is returned by Update when the stored version differs
	// from the expected one.
	ErrVersionConflict = errors.New("version conflict")
	// ErrDuplicate is returned when a unique field (batch number, user email)
	// is already taken.
	ErrDuplicate = errors.New("duplicate key")
)

// Filter selects batch records. Empty fields match everything.
type Filter struct {
	Statuses         []models.ApprovalStatus
	ShipmentStatuses []models.ShipmentStatus
	ManufacturerID   string
	BatchNumber      string
	// UpdatedBefore, when set, only matches records last written before it.
	UpdatedBefore time.Time
	// Limit caps the result size; zero means no cap.
	Limit int
}

// Match reports whether r satisfies f.
func (f Filter) Match(r models.BatchRecord) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
		return false
	}
	if len(f.ShipmentStatuses) > 0 && !slices.Contains(f.ShipmentStatuses, r.ShipmentStatus) {
		return false
	}
	if f.ManufacturerID != "" && r.ManufacturerID != f.ManufacturerID {
		return false
	}
	if f.BatchNumber != "" && r.BatchNumber != f.BatchNumber {
		return false
	}
	if !f.UpdatedBefore.IsZero() && !r.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	return true
}

// Mutation is the state written by a workflow transition. An empty
// ShipmentStatus removes the field from the document.
type Mutation struct {
	Status         models.ApprovalStatus
	ShipmentStatus models.ShipmentStatus
	Event          models.TransitionEvent
}

// BatchStore persists batch records. Find returns records ordered by
// submissionDate, newest first.
type BatchStore interface {
	Create(ctx context.Context, rec models.BatchRecord) (models.BatchRecord, error)
	Get(ctx context.Context, id string) (models.BatchRecord, error)
	Find(ctx context.Context, f Filter) ([]models.BatchRecord, error)
	// Update applies m only if the record's version equals expectedVersion and
	// returns the record as stored afterwards.
	Update(ctx context.Context, id string, expectedVersion int64, m Mutation) (models.BatchRecord, error)
	// Changes streams every created or updated record until ctx is done.
	Changes(ctx context.Context) (<-chan models.BatchRecord, error)
}

// UserStore persists user profiles, the authoritative source of roles.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (models.User, error)
	FindByID(ctx context.Context, id string) (models.User, error)
	Insert(ctx context.Context, u models.User) (models.User, error)
	CountByRole(ctx context.Context, role models.Role) (int64, error)
}
