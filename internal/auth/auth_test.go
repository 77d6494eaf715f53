package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"pharma-scm-api-server/internal/models"
)

func testUser() models.User {
	return models.User{ID: primitive.NewObjectID(), Email: "qa@pharmatrust.com", Name: "PharmaTrust", Role: models.RoleManufacturer}
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	require.NoError(t, err)
	assert.True(t, CheckPasswordHash("s3cret-pass", hash))
	assert.False(t, CheckPasswordHash("wrong", hash))
}

func TestTokenRoundTrip(t *testing.T) {
	tokens, err := NewTokens("test-secret", "pharma-scm", time.Hour)
	require.NoError(t, err)
	u := testUser()

	signed, err := tokens.Generate(u)
	require.NoError(t, err)

	claims, err := tokens.Parse(signed)
	require.NoError(t, err)
	sess := claims.Session()
	assert.Equal(t, u.ID.Hex(), sess.UserID)
	assert.Equal(t, "PharmaTrust", sess.DisplayName)
	assert.Equal(t, models.RoleManufacturer, sess.Role)
}

func TestParseRejectsBadTokens(t *testing.T) {
	tokens, err := NewTokens("test-secret", "pharma-scm", time.Hour)
	require.NoError(t, err)
	other, err := NewTokens("other-secret", "pharma-scm", time.Hour)
	require.NoError(t, err)

	forged, err := other.Generate(testUser())
	require.NoError(t, err)
	_, err = tokens.Parse(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	tokens.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := tokens.Generate(testUser())
	require.NoError(t, err)
	tokens.now = time.Now
	_, err = tokens.Parse(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noRole := testUser()
	noRole.Role = "superadmin"
	signed, err := tokens.Generate(noRole)
	require.NoError(t, err)
	_, err = tokens.Parse(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = tokens.Parse("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewTokensRequiresSecret(t *testing.T) {
	_, err := NewTokens("", "", 0)
	assert.Error(t, err)
}
