package repository

import (
	"context"
	"errors"
	"time"

	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/db/models"
)

// ErrNotFound is wrapped by every lookup that matches no row.
var ErrNotFound = errors.New("not found")

// UserRepository exposes persistence operations for user accounts.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string) error
}

// RoleRepository exposes roles and their feature grants.
type RoleRepository interface {
	Create(ctx context.Context, role *models.Role) error
	GetByID(ctx context.Context, id int64) (*models.Role, error)
	GetByName(ctx context.Context, name string) (*models.Role, error)
	List(ctx context.Context) ([]models.Role, error)
	ListGrants(ctx context.Context) ([]models.PermissionGrant, error)
	UpsertGrant(ctx context.Context, grant *models.PermissionGrant) error
}

// UserRoleRepository manages role assignments and the active role.
type UserRoleRepository interface {
	// ListForUser returns assignments with Role populated, primary first.
	ListForUser(ctx context.Context, userID string) ([]models.UserRole, error)
	// Assign adds a role; the first assignment becomes primary and active.
	Assign(ctx context.Context, userID string, roleID int64, primary bool) error
	// SetActive makes roleID the only active assignment of userID.
	SetActive(ctx context.Context, userID string, roleID int64) error
}

// DeviceRepository tracks devices that passed OTP verification.
type DeviceRepository interface {
	IsTrusted(ctx context.Context, userID, deviceID string) (bool, error)
	Trust(ctx context.Context, userID, deviceID string) error
}

// OTPChallengeRepository stores outstanding passcodes.
type OTPChallengeRepository interface {
	// Create stores ch and consumes any earlier open challenge for the
	// same user and device.
	Create(ctx context.Context, ch *models.OTPChallenge) error
	// GetOpen returns the newest unconsumed challenge for user and device.
	GetOpen(ctx context.Context, userID, deviceID string) (*models.OTPChallenge, error)
	IncrementAttempts(ctx context.Context, id string) (int, error)
	Consume(ctx context.Context, id string) error
}

// RefreshTokenRepository records issued refresh tokens for revocation.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	GetByJTI(ctx context.Context, jti string) (*models.RefreshToken, error)
	Revoke(ctx context.Context, jti string, at time.Time) error
}
