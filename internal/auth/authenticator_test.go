package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharma-scm-api-server/internal/models"
	"pharma-scm-api-server/internal/store"
	"pharma-scm-api-server/internal/store/memory"
	"pharma-scm-api-server/internal/workflow"
)

type profileFunc func(ctx context.Context, id string) (models.User, error)

func (f profileFunc) FindByID(ctx context.Context, id string) (models.User, error) { return f(ctx, id) }

func TestAuthenticatorUsesStoredProfile(t *testing.T) {
	tokens, err := NewTokens("test-secret", "pharma-scm", time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	users := memory.NewUserStore()
	u, err := users.Insert(ctx, models.User{Email: "qa@pharmatrust.com", Name: "PharmaTrust QA", Role: models.RoleManufacturer, Status: models.UserStatusActive})
	require.NoError(t, err)

	// The token was issued while the user was a Distributor.
	stale := u
	stale.Role = models.RoleDistributor
	signed, err := tokens.Generate(stale)
	require.NoError(t, err)

	sess, err := NewAuthenticator(tokens, users).Session(ctx, signed)
	require.NoError(t, err)
	assert.Equal(t, workflow.Session{UserID: u.ID.Hex(), DisplayName: "PharmaTrust QA", Role: models.RoleManufacturer}, sess)

	// Without a profile store the claims are trusted as issued.
	sess, err = NewAuthenticator(tokens, nil).Session(ctx, signed)
	require.NoError(t, err)
	assert.Equal(t, models.RoleDistributor, sess.Role)
}

func TestAuthenticatorRejections(t *testing.T) {
	tokens, err := NewTokens("test-secret", "pharma-scm", time.Hour)
	require.NoError(t, err)
	ctx := context.Background()
	u := testUser()
	signed, err := tokens.Generate(u)
	require.NoError(t, err)

	cases := []struct {
		name    string
		profile profileFunc
		want    error
	}{
		{"deleted", func(context.Context, string) (models.User, error) { return models.User{}, store.ErrNotFound }, ErrInvalidToken},
		{"deactivated", func(context.Context, string) (models.User, error) {
			d := u
			d.Status = "suspended"
			return d, nil
		}, ErrInactiveAccount},
		{"unknown role", func(context.Context, string) (models.User, error) {
			d := u
			d.Role = "Auditor"
			return d, nil
		}, ErrInvalidToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewAuthenticator(tokens, tc.profile).Session(ctx, signed)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	storeDown := errors.New("connection refused")
	_, err = NewAuthenticator(tokens, profileFunc(func(context.Context, string) (models.User, error) {
		return models.User{}, storeDown
	})).Session(ctx, signed)
	assert.ErrorIs(t, err, storeDown)
	assert.NotErrorIs(t, err, ErrInvalidToken)

	_, err = NewAuthenticator(tokens, nil).Session(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
