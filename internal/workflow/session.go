package workflow

import (
	"fmt"
	"slices"

	"pharma-scm-api-server/internal/models"
)

// Session identifies the actor behind a workflow operation. It is resolved
// once per request from the verified token and passed explicitly.
type Session struct {
	UserID      string
	DisplayName string
	Role        models.Role
}

// systemSession performs recovery sweeps. It is never authorized through
// role checks; callers bypass them explicitly.
var systemSession = Session{UserID: "system", DisplayName: "system"}

func (s Session) authorize(action Action, allowed []models.Role) error {
	if s.UserID == "" || !slices.Contains(allowed, s.Role) {
		return fmt.Errorf("%w: %s requires %v, got %q", ErrForbidden, action, allowed, s.Role)
	}
	return nil
}
