package models

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// User is an employee account that can sign in to the portal.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           string     `bun:"id,pk"`
	Email        string     `bun:"email,notnull,unique"`
	FirstName    string     `bun:"first_name,notnull,default:''"`
	LastName     string     `bun:"last_name,notnull,default:''"`
	PictureURL   string     `bun:"picture_url,notnull,default:''"`
	PasswordHash string     `bun:"password_hash,notnull"`
	CreatedAt    time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
	LastLoginAt  *time.Time `bun:"last_login_at"`
	DisabledAt   *time.Time `bun:"disabled_at"`
}

// DisplayName joins first and last name, falling back to the email.
func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// Role is a named bundle of feature grants.
type Role struct {
	bun.BaseModel `bun:"table:roles,alias:r"`

	ID          int64     `bun:"id,pk,autoincrement"`
	Name        string    `bun:"name,notnull,unique"`
	Description string    `bun:"description,notnull,default:''"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// UserRole assigns a role to a user. At most one assignment per user is
// active and at most one is primary.
type UserRole struct {
	bun.BaseModel `bun:"table:user_roles,alias:ur"`

	UserID     string    `bun:"user_id,pk"`
	RoleID     int64     `bun:"role_id,pk"`
	IsPrimary  bool      `bun:"is_primary,notnull,default:false"`
	IsActive   bool      `bun:"is_active,notnull,default:false"`
	AssignedAt time.Time `bun:"assigned_at,notnull,default:current_timestamp"`

	Role *Role `bun:"rel:belongs-to,join:role_id=id"`
}

// PermissionGrant is the CRUD grant of one role on one feature. The feature
// code "*" applies to every feature.
type PermissionGrant struct {
	bun.BaseModel `bun:"table:permission_grants,alias:pg"`

	RoleID      int64  `bun:"role_id,pk"`
	FeatureCode string `bun:"feature_code,pk"`
	CanView     bool   `bun:"can_view,notnull,default:false"`
	CanCreate   bool   `bun:"can_create,notnull,default:false"`
	CanEdit     bool   `bun:"can_edit,notnull,default:false"`
	CanDelete   bool   `bun:"can_delete,notnull,default:false"`
}

// Actions lists the granted action names.
func (g *PermissionGrant) Actions() []string {
	var out []string
	if g.CanView {
		out = append(out, "view")
	}
	if g.CanCreate {
		out = append(out, "create")
	}
	if g.CanEdit {
		out = append(out, "edit")
	}
	if g.CanDelete {
		out = append(out, "delete")
	}
	return out
}

// TrustedDevice records a device that completed OTP verification for a user.
type TrustedDevice struct {
	bun.BaseModel `bun:"table:trusted_devices,alias:td"`

	UserID     string    `bun:"user_id,pk"`
	DeviceID   string    `bun:"device_id,pk"`
	TrustedAt  time.Time `bun:"trusted_at,notnull,default:current_timestamp"`
	LastSeenAt time.Time `bun:"last_seen_at,notnull,default:current_timestamp"`
}

// OTPChallenge is an outstanding one-time passcode for a user on a device.
type OTPChallenge struct {
	bun.BaseModel `bun:"table:otp_challenges,alias:otp"`

	ID         string     `bun:"id,pk"`
	UserID     string     `bun:"user_id,notnull"`
	DeviceID   string     `bun:"device_id,notnull"`
	CodeHash   string     `bun:"code_hash,notnull"`
	ExpiresAt  time.Time  `bun:"expires_at,notnull"`
	Attempts   int        `bun:"attempts,notnull,default:0"`
	ConsumedAt *time.Time `bun:"consumed_at"`
	CreatedAt  time.Time  `bun:"created_at,notnull,default:current_timestamp"`
}

// RefreshToken tracks an issued refresh token by its JTI so it can be revoked.
type RefreshToken struct {
	bun.BaseModel `bun:"table:refresh_tokens,alias:rt"`

	JTI       string     `bun:"jti,pk"`
	UserID    string     `bun:"user_id,notnull"`
	ExpiresAt time.Time  `bun:"expires_at,notnull"`
	RevokedAt *time.Time `bun:"revoked_at"`
	CreatedAt time.Time  `bun:"created_at,notnull,default:current_timestamp"`
}
