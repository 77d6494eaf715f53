package auth

import (
	"context"
	"errors"
	"fmt"

	"pharma-scm-api-server/internal/models"
	"pharma-scm-api-server/internal/store"
	"pharma-scm-api-server/internal/workflow"
)

var ErrInactiveAccount = errors.New("account is not active")

// Profiles looks up the stored profile behind a token.
type Profiles interface {
	FindByID(ctx context.Context, id string) (models.User, error)
}

// Authenticator turns bearer tokens into sessions. The token proves who the
// caller is; role and status come from the stored profile, so a changed role
// or a deactivated account applies on the next request.
type Authenticator struct {
	Tokens *Tokens
	Users  Profiles
}

func NewAuthenticator(tokens *Tokens, users Profiles) *Authenticator {
	return &Authenticator{Tokens: tokens, Users: users}
}

// Session verifies tokenString and resolves the caller's current session.
func (a *Authenticator) Session(ctx context.Context, tokenString string) (workflow.Session, error) {
	claims, err := a.Tokens.Parse(tokenString)
	if err != nil {
		return workflow.Session{}, err
	}
	if a.Users == nil {
		return claims.Session(), nil
	}

	u, err := a.Users.FindByID(ctx, claims.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return workflow.Session{}, fmt.Errorf("%w: user %s no longer exists", ErrInvalidToken, claims.UserID)
	}
	if err != nil {
		return workflow.Session{}, fmt.Errorf("load profile %s: %w", claims.UserID, err)
	}
	if !u.Active() {
		return workflow.Session{}, fmt.Errorf("%w: %s", ErrInactiveAccount, claims.UserID)
	}
	if _, ok := models.ParseRole(string(u.Role)); !ok {
		return workflow.Session{}, fmt.Errorf("%w: stored role %q", ErrInvalidToken, u.Role)
	}
	return workflow.Session{UserID: claims.UserID, DisplayName: u.Name, Role: u.Role}, nil
}
