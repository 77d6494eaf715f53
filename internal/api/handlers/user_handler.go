// server/internal/api/handlers/user_handler.go
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pharma-scm-api-server/internal/auth"
	"pharma-scm-api-server/internal/models"
	"pharma-scm-api-server/internal/store"
)

type UserHandler struct {
	Users  store.UserStore
	Tokens *auth.Tokens
	Logger *zap.Logger
	// DefaultRole is assigned when registration does not pick one.
	DefaultRole models.Role
	// AllowRoleChoice lets registration pick any role except FDA.
	AllowRoleChoice bool
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Name     string `json:"name" binding:"required,max=200"`
	Password string `json:"password" binding:"required,min=8,max=72"`
	Role     string `json:"role"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *UserHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	role := h.DefaultRole
	if req.Role != "" {
		requested, ok := models.ParseRole(req.Role)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown role"})
			return
		}
		if !h.AllowRoleChoice || requested == models.RoleFDA {
			c.JSON(http.StatusForbidden, gin.H{"error": "Role cannot be self-assigned"})
			return
		}
		role = requested
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	user, err := h.Users.Insert(c.Request.Context(), models.User{
		Email:    strings.TrimSpace(req.Email),
		Name:     strings.TrimSpace(req.Name),
		Password: hash,
		Role:     role,
		Status:   models.UserStatusActive,
	})
	if errors.Is(err, store.ErrDuplicate) {
		c.JSON(http.StatusConflict, gin.H{"error": "Email is already registered"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	token, err := h.Tokens.Generate(user)
	if err != nil {
		respondError(c, err)
		return
	}
	h.Logger.Info("User registered", zap.String("userID", user.ID.Hex()), zap.String("role", string(role)))
	c.JSON(http.StatusCreated, gin.H{"token": token, "user": user})
}

func (h *UserHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.Users.FindByEmail(c.Request.Context(), strings.TrimSpace(req.Email))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		respondError(c, err)
		return
	}
	if err != nil || !auth.CheckPasswordHash(req.Password, user.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}
	if !user.Active() {
		c.JSON(http.StatusForbidden, gin.H{"error": "Account is not active"})
		return
	}

	token, err := h.Tokens.Generate(user)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}
