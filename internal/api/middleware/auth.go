// server/internal/api/middleware/auth.go
package middleware

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"pharma-scm-api-server/internal/auth"
	"pharma-scm-api-server/internal/models"
	"pharma-scm-api-server/internal/workflow"
)

const sessionKey = "session"

// Authenticate verifies the bearer token and stores the caller's current
// session in the request context.
func Authenticate(authn *auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token format"})
			return
		}

		sess, err := authn.Session(c.Request.Context(), tokenString)
		if err != nil {
			status, body := AuthError(err)
			c.AbortWithStatusJSON(status, body)
			return
		}

		c.Set(sessionKey, sess)
		c.Next()
	}
}

// AuthError maps an Authenticator error to a response.
func AuthError(err error) (int, gin.H) {
	switch {
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"}
	case errors.Is(err, auth.ErrInactiveAccount):
		return http.StatusForbidden, gin.H{"error": "Account is not active"}
	default:
		return http.StatusInternalServerError, gin.H{"error": "Failed to load user profile"}
	}
}

// Authorize only lets sessions with one of allowedRoles through. It must run
// after Authenticate.
func Authorize(allowedRoles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := Session(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Session not found in context"})
			return
		}
		if !slices.Contains(allowedRoles, sess.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "You do not have permission to access this resource"})
			return
		}
		c.Next()
	}
}

// Session returns the session set by Authenticate.
func Session(c *gin.Context) (workflow.Session, bool) {
	v, exists := c.Get(sessionKey)
	if !exists {
		return workflow.Session{}, false
	}
	sess, ok := v.(workflow.Session)
	return sess, ok
}
