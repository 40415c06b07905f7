package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/db/models"
	"github.com/uptrace/bun"
)

// BunRefreshTokenRepository implements RefreshTokenRepository using Bun ORM
type BunRefreshTokenRepository struct {
	db *bun.DB
}

// NewBunRefreshTokenRepository creates a new Bun-based refresh token repository
func NewBunRefreshTokenRepository(db *bun.DB) *BunRefreshTokenRepository {
	return &BunRefreshTokenRepository{db: db}
}

// Create records an issued refresh token
func (r *BunRefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	if _, err := r.db.NewInsert().Model(token).Exec(ctx); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// GetByJTI retrieves a refresh token record by its JTI
func (r *BunRefreshTokenRepository) GetByJTI(ctx context.Context, jti string) (*models.RefreshToken, error) {
	token := new(models.RefreshToken)
	if err := r.db.NewSelect().Model(token).Where("jti = ?", jti).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("refresh token %s: %w", jti, ErrNotFound)
		}
		return nil, fmt.Errorf("get refresh token: %w", err)
	}
	return token, nil
}

// Revoke marks the token revoked. Revoking twice keeps the first timestamp.
func (r *BunRefreshTokenRepository) Revoke(ctx context.Context, jti string, at time.Time) error {
	_, err := r.db.NewUpdate().
		Model((*models.RefreshToken)(nil)).
		Set("revoked_at = ?", at).
		Where("jti = ? AND revoked_at IS NULL", jti).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}
