package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/db/models"
	"github.com/uptrace/bun"
)

// BunUserRoleRepository implements UserRoleRepository using Bun ORM
type BunUserRoleRepository struct {
	db *bun.DB
}

// NewBunUserRoleRepository creates a new Bun-based user-role repository
func NewBunUserRoleRepository(db *bun.DB) *BunUserRoleRepository {
	return &BunUserRoleRepository{db: db}
}

// ListForUser returns the user's assignments with their roles, primary first
func (r *BunUserRoleRepository) ListForUser(ctx context.Context, userID string) ([]models.UserRole, error) {
	var assignments []models.UserRole
	err := r.db.NewSelect().
		Model(&assignments).
		Relation("Role").
		Where("ur.user_id = ?", userID).
		OrderExpr("ur.is_primary DESC, ur.role_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roles for user: %w", err)
	}
	return assignments, nil
}

// Assign adds roleID to the user. The first assignment of a user becomes
// primary and active; primary moves the primary flag to this role.
func (r *BunUserRoleRepository) Assign(ctx context.Context, userID string, roleID int64, primary bool) error {
	return r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		count, err := tx.NewSelect().
			Model((*models.UserRole)(nil)).
			Where("user_id = ?", userID).
			Count(ctx)
		if err != nil {
			return fmt.Errorf("count user roles: %w", err)
		}

		first := count == 0
		if primary && !first {
			if _, err := tx.NewUpdate().
				Model((*models.UserRole)(nil)).
				Set("is_primary = ?", false).
				Where("user_id = ?", userID).
				Exec(ctx); err != nil {
				return fmt.Errorf("clear primary role: %w", err)
			}
		}

		ur := &models.UserRole{
			UserID:    userID,
			RoleID:    roleID,
			IsPrimary: first || primary,
			IsActive:  first,
		}
		q := tx.NewInsert().Model(ur)
		if ur.IsPrimary {
			q = q.On("CONFLICT (user_id, role_id) DO UPDATE").Set("is_primary = EXCLUDED.is_primary")
		} else {
			q = q.On("CONFLICT DO NOTHING")
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("assign role: %w", err)
		}
		return nil
	})
}

// SetActive makes roleID the only active assignment of userID. It returns
// ErrNotFound when the role is not assigned to the user.
func (r *BunUserRoleRepository) SetActive(ctx context.Context, userID string, roleID int64) error {
	return r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*models.UserRole)(nil)).
			Where("user_id = ? AND role_id = ?", userID, roleID).
			Exists(ctx)
		if err != nil {
			return fmt.Errorf("check role assignment: %w", err)
		}
		if !exists {
			return fmt.Errorf("role %d for user %s: %w", roleID, userID, ErrNotFound)
		}

		if _, err := tx.NewUpdate().
			Model((*models.UserRole)(nil)).
			Set("is_active = ?", false).
			Where("user_id = ? AND is_active = ?", userID, true).
			Exec(ctx); err != nil {
			return fmt.Errorf("clear active role: %w", err)
		}
		if _, err := tx.NewUpdate().
			Model((*models.UserRole)(nil)).
			Set("is_active = ?", true).
			Where("user_id = ? AND role_id = ?", userID, roleID).
			Exec(ctx); err != nil {
			return fmt.Errorf("set active role: %w", err)
		}
		return nil
	})
}
