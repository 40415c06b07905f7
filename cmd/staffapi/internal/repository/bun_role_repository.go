package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/db/models"
	"github.com/uptrace/bun"
)

// BunRoleRepository implements RoleRepository using Bun ORM
type BunRoleRepository struct {
	db *bun.DB
}

// NewBunRoleRepository creates a new Bun-based role repository
func NewBunRoleRepository(db *bun.DB) *BunRoleRepository {
	return &BunRoleRepository{db: db}
}

// Create inserts a role and populates its generated ID
func (r *BunRoleRepository) Create(ctx context.Context, role *models.Role) error {
	if _, err := r.db.NewInsert().Model(role).Returning("id").Exec(ctx); err != nil {
		return fmt.Errorf("create role: %w", err)
	}
	return nil
}

// GetByID retrieves a role by its ID
func (r *BunRoleRepository) GetByID(ctx context.Context, id int64) (*models.Role, error) {
	role := new(models.Role)
	if err := r.db.NewSelect().Model(role).Where("id = ?", id).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("role %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get role by ID: %w", err)
	}
	return role, nil
}

// GetByName retrieves a role by its unique name
func (r *BunRoleRepository) GetByName(ctx context.Context, name string) (*models.Role, error) {
	role := new(models.Role)
	if err := r.db.NewSelect().Model(role).Where("name = ?", name).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("role %q: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("get role by name: %w", err)
	}
	return role, nil
}

// List returns all roles ordered by ID
func (r *BunRoleRepository) List(ctx context.Context) ([]models.Role, error) {
	var roles []models.Role
	if err := r.db.NewSelect().Model(&roles).Order("id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roles, nil
}

// ListGrants returns every feature grant ordered by role and feature
func (r *BunRoleRepository) ListGrants(ctx context.Context) ([]models.PermissionGrant, error) {
	var grants []models.PermissionGrant
	err := r.db.NewSelect().
		Model(&grants).
		Order("role_id ASC", "feature_code ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	return grants, nil
}

// UpsertGrant creates or replaces the grant of a role on a feature
func (r *BunRoleRepository) UpsertGrant(ctx context.Context, grant *models.PermissionGrant) error {
	_, err := r.db.NewInsert().
		Model(grant).
		On("CONFLICT (role_id, feature_code) DO UPDATE").
		Set("can_view = EXCLUDED.can_view").
		Set("can_create = EXCLUDED.can_create").
		Set("can_edit = EXCLUDED.can_edit").
		Set("can_delete = EXCLUDED.can_delete").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert grant: %w", err)
	}
	return nil
}
