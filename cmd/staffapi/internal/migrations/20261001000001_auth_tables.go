package migrations

import (
	"context"
	"fmt"

	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(up_20261001000001, down_20261001000001)
}

const (
	fkUser = `("user_id") REFERENCES "users" ("id") ON DELETE CASCADE`
	fkRole = `("role_id") REFERENCES "roles" ("id") ON DELETE CASCADE`
)

// up_20261001000001 creates the account, role, and session tables
func up_20261001000001(ctx context.Context, db *bun.DB) error {
	tables := []struct {
		name  string
		model any
		fks   []string
	}{
		{"users", (*models.User)(nil), nil},
		{"roles", (*models.Role)(nil), nil},
		{"user_roles", (*models.UserRole)(nil), []string{fkUser, fkRole}},
		{"permission_grants", (*models.PermissionGrant)(nil), []string{fkRole}},
		{"trusted_devices", (*models.TrustedDevice)(nil), []string{fkUser}},
		{"otp_challenges", (*models.OTPChallenge)(nil), []string{fkUser}},
		{"refresh_tokens", (*models.RefreshToken)(nil), []string{fkUser}},
	}

	for _, tbl := range tables {
		fmt.Printf(" [up] creating %s table...", tbl.name)
		q := db.NewCreateTable().Model(tbl.model).IfNotExists()
		for _, fk := range tbl.fks {
			q = q.ForeignKey(fk)
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("failed to create %s table: %w", tbl.name, err)
		}
		fmt.Println(" OK")
	}

	indexes := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_user_roles_active ON user_roles(user_id) WHERE is_active`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_user_roles_primary ON user_roles(user_id) WHERE is_primary`,
		`CREATE INDEX IF NOT EXISTS idx_otp_challenges_user_device ON otp_challenges(user_id, device_id)`,
		`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user ON refresh_tokens(user_id)`,
	}
	fmt.Print(" [up] creating indexes...")
	for _, stmt := range indexes {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	fmt.Println(" OK")

	return nil
}

// down_20261001000001 drops the tables in reverse dependency order
func down_20261001000001(ctx context.Context, db *bun.DB) error {
	drops := []struct {
		name  string
		model any
	}{
		{"refresh_tokens", (*models.RefreshToken)(nil)},
		{"otp_challenges", (*models.OTPChallenge)(nil)},
		{"trusted_devices", (*models.TrustedDevice)(nil)},
		{"permission_grants", (*models.PermissionGrant)(nil)},
		{"user_roles", (*models.UserRole)(nil)},
		{"roles", (*models.Role)(nil)},
		{"users", (*models.User)(nil)},
	}
	for _, tbl := range drops {
		fmt.Printf(" [down] dropping %s table...", tbl.name)
		if _, err := db.NewDropTable().Model(tbl.model).IfExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to drop %s table: %w", tbl.name, err)
		}
		fmt.Println(" OK")
	}
	return nil
}
