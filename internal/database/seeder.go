// server/internal/database/seeder.go
package database

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"pharma-scm-api-server/config"
	"pharma-scm-api-server/internal/auth"
	"pharma-scm-api-server/internal/models"
	"pharma-scm-api-server/internal/store"
)

// SeedFDAReviewer creates the FDA reviewer account when no FDA user exists.
// FDA accounts cannot self-register, so this is the only way to get one.
func SeedFDAReviewer(ctx context.Context, users store.UserStore, cfg config.SeedConfig, logger *zap.Logger) error {
	count, err := users.CountByRole(ctx, models.RoleFDA)
	if err != nil {
		return fmt.Errorf("failed to count FDA users: %w", err)
	}
	if count > 0 {
		logger.Info("FDA reviewer already exists. Seeding skipped.")
		return nil
	}
	if cfg.FDAEmail == "" || cfg.FDAPassword == "" {
		logger.Warn("No FDA reviewer configured; approvals are unavailable until one is seeded")
		return nil
	}

	logger.Info("FDA reviewer not found. Seeding...", zap.String("email", cfg.FDAEmail))
	hashedPassword, err := auth.HashPassword(cfg.FDAPassword)
	if err != nil {
		return err
	}

	_, err = users.Insert(ctx, models.User{
		Email:    cfg.FDAEmail,
		Name:     cfg.FDAName,
		Password: hashedPassword,
		Role:     models.RoleFDA,
		Status:   models.UserStatusActive,
	})
	if errors.Is(err, store.ErrDuplicate) {
		return fmt.Errorf("seed email %s is taken by a non-FDA account", cfg.FDAEmail)
	}
	if err != nil {
		return err
	}

	logger.Info("FDA reviewer seeded successfully.")
	return nil
}
