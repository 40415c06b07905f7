package migrations

import (
	"context"
	"fmt"

	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/db/models"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	Migrations.MustRegister(up_20261001000002, down_20261001000002)
}

// DemoPassword is the password of every seeded demo account.
const DemoPassword = "staffgrid-demo"

// Seeded role identifiers.
const (
	RoleAdminID    int64 = 1
	RoleManagerID  int64 = 2
	RoleEmployeeID int64 = 3
)

// Seeded user identifiers.
const (
	DemoAdminID    = "01928a3c-0000-7000-8000-000000000001"
	DemoManagerID  = "01928a3c-0000-7000-8000-000000000002"
	DemoEmployeeID = "01928a3c-0000-7000-8000-000000000003"
)

func demoRoles() []models.Role {
	return []models.Role{
		{ID: RoleAdminID, Name: "Admin", Description: "Full access to every feature"},
		{ID: RoleManagerID, Name: "Manager", Description: "Team management and approvals"},
		{ID: RoleEmployeeID, Name: "Employee", Description: "Self-service access"},
	}
}

func demoGrants() []models.PermissionGrant {
	full := func(role int64, feature string) models.PermissionGrant {
		return models.PermissionGrant{RoleID: role, FeatureCode: feature, CanView: true, CanCreate: true, CanEdit: true, CanDelete: true}
	}
	return []models.PermissionGrant{
		full(RoleAdminID, "*"),

		{RoleID: RoleManagerID, FeatureCode: "dashboard", CanView: true},
		{RoleID: RoleManagerID, FeatureCode: "employees", CanView: true, CanCreate: true, CanEdit: true},
		{RoleID: RoleManagerID, FeatureCode: "payroll", CanView: true},
		{RoleID: RoleManagerID, FeatureCode: "leave", CanView: true, CanEdit: true},
		{RoleID: RoleManagerID, FeatureCode: "attendance", CanView: true, CanEdit: true},
		{RoleID: RoleManagerID, FeatureCode: "onboarding", CanView: true, CanCreate: true, CanEdit: true},

		{RoleID: RoleEmployeeID, FeatureCode: "dashboard", CanView: true},
		{RoleID: RoleEmployeeID, FeatureCode: "payroll", CanView: true},
		{RoleID: RoleEmployeeID, FeatureCode: "leave", CanView: true, CanCreate: true},
		{RoleID: RoleEmployeeID, FeatureCode: "attendance", CanView: true, CanCreate: true},

		// Covered by the wildcard; the row puts settings in the feature catalog.
		{RoleID: RoleAdminID, FeatureCode: "settings", CanView: true, CanCreate: true, CanEdit: true, CanDelete: true},
	}
}

// up_20261001000002 seeds demo roles, grants, and one account per role
func up_20261001000002(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] seeding roles and grants...")
	for _, role := range demoRoles() {
		if _, err := db.NewInsert().Model(&role).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
			return fmt.Errorf("failed to seed role %s: %w", role.Name, err)
		}
	}
	if IsPostgreSQL(db) {
		// Explicit IDs do not advance the serial sequence.
		if _, err := db.ExecContext(ctx, `SELECT setval(pg_get_serial_sequence('roles', 'id'), (SELECT MAX(id) FROM roles))`); err != nil {
			return fmt.Errorf("failed to advance roles sequence: %w", err)
		}
	}
	for _, grant := range demoGrants() {
		if _, err := db.NewInsert().Model(&grant).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
			return fmt.Errorf("failed to seed grant %d/%s: %w", grant.RoleID, grant.FeatureCode, err)
		}
	}
	fmt.Println(" OK")

	fmt.Print(" [up] seeding demo users...")
	hash, err := bcrypt.GenerateFromPassword([]byte(DemoPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash demo password: %w", err)
	}
	users := []models.User{
		{ID: DemoAdminID, Email: "admin@staffgrid.local", FirstName: "Ada", LastName: "Admin", PasswordHash: string(hash)},
		{ID: DemoManagerID, Email: "manager@staffgrid.local", FirstName: "Mia", LastName: "Manager", PasswordHash: string(hash)},
		{ID: DemoEmployeeID, Email: "employee@staffgrid.local", FirstName: "Eli", LastName: "Employee", PasswordHash: string(hash)},
	}
	for _, user := range users {
		if _, err := db.NewInsert().Model(&user).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
			return fmt.Errorf("failed to seed user %s: %w", user.Email, err)
		}
	}

	assignments := []models.UserRole{
		{UserID: DemoAdminID, RoleID: RoleAdminID, IsPrimary: true, IsActive: true},
		{UserID: DemoManagerID, RoleID: RoleManagerID, IsPrimary: true, IsActive: true},
		{UserID: DemoManagerID, RoleID: RoleEmployeeID},
		{UserID: DemoEmployeeID, RoleID: RoleEmployeeID, IsPrimary: true, IsActive: true},
	}
	for _, ur := range assignments {
		if _, err := db.NewInsert().Model(&ur).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
			return fmt.Errorf("failed to seed role assignment: %w", err)
		}
	}
	fmt.Println(" OK")

	return nil
}

// down_20261001000002 removes the demo accounts, grants, and roles
func down_20261001000002(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] removing demo data...")
	if _, err := db.NewDelete().Model((*models.User)(nil)).
		Where("id IN (?)", bun.In([]string{DemoAdminID, DemoManagerID, DemoEmployeeID})).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove demo users: %w", err)
	}
	roleIDs := bun.In([]int64{RoleAdminID, RoleManagerID, RoleEmployeeID})
	if _, err := db.NewDelete().Model((*models.PermissionGrant)(nil)).Where("role_id IN (?)", roleIDs).Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove demo grants: %w", err)
	}
	if _, err := db.NewDelete().Model((*models.Role)(nil)).Where("id IN (?)", roleIDs).Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove demo roles: %w", err)
	}
	fmt.Println(" OK")
	return nil
}
