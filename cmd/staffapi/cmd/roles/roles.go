// Package roles implements the staffapi role and grant administration
// commands.
package roles

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/staffgrid/cmd/staffapi/cmd/cmdutil"
	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/auth"
	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/db/bunx"
	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/db/models"
	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/repository"
)

// RolesCmd is the parent command for role administration
var RolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "Manage roles and feature grants",
}

var (
	descriptionFlag string
	grantActions    []string
)

// withRoles opens the configured database and runs fn with a role repository.
func withRoles(cmd *cobra.Command, fn func(context.Context, repository.RoleRepository) error) error {
	cfg, err := cmdutil.LoadConfig(cmd)
	if err != nil {
		return err
	}
	db, err := cmdutil.OpenDB(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer bunx.Close(db)
	return fn(cmd.Context(), repository.NewBunRoleRepository(db))
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List roles and their grants",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRoles(cmd, func(ctx context.Context, roles repository.RoleRepository) error {
			data, err := roleTable(ctx, roles)
			if err != nil {
				return err
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
		})
	},
}

var createCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a role",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRoles(cmd, func(ctx context.Context, roles repository.RoleRepository) error {
			role := &models.Role{Name: strings.TrimSpace(args[0]), Description: descriptionFlag}
			if role.Name == "" {
				return fmt.Errorf("role name must not be empty")
			}
			if err := roles.Create(ctx, role); err != nil {
				return fmt.Errorf("failed to create role: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created role '%s' (id %d)\n", role.Name, role.ID)
			return nil
		})
	},
}

var grantCmd = &cobra.Command{
	Use:   "grant ROLE FEATURE",
	Short: "Set the actions a role may perform on a feature",
	Long: `Replaces the grant of ROLE on FEATURE with the actions given by --action.
Use the feature "*" to grant the actions on every feature. Running the
server picks up the change on SIGHUP or restart.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRoles(cmd, func(ctx context.Context, roles repository.RoleRepository) error {
			return grant(ctx, roles, args[0], args[1], grantActions, cmd.OutOrStdout())
		})
	},
}

func grant(ctx context.Context, roles repository.RoleRepository, roleName, feature string, actions []string, out io.Writer) error {
	role, err := roles.GetByName(ctx, roleName)
	if err != nil {
		return fmt.Errorf("failed to find role %q: %w", roleName, err)
	}
	g, err := buildGrant(role.ID, feature, actions)
	if err != nil {
		return err
	}
	if err := roles.UpsertGrant(ctx, g); err != nil {
		return fmt.Errorf("failed to save grant: %w", err)
	}
	granted := g.Actions()
	if len(granted) == 0 {
		granted = []string{"none"}
	}
	fmt.Fprintf(out, "Granted %s on %s to '%s'\n", strings.Join(granted, ", "), g.FeatureCode, role.Name)
	return nil
}

func buildGrant(roleID int64, feature string, actions []string) (*models.PermissionGrant, error) {
	feature = strings.TrimSpace(feature)
	if feature == "" {
		return nil, fmt.Errorf("feature code must not be empty")
	}
	g := &models.PermissionGrant{RoleID: roleID, FeatureCode: feature}
	for _, action := range actions {
		switch strings.ToLower(strings.TrimSpace(action)) {
		case "view":
			g.CanView = true
		case "create":
			g.CanCreate = true
		case "edit":
			g.CanEdit = true
		case "delete":
			g.CanDelete = true
		case "all":
			g.CanView, g.CanCreate, g.CanEdit, g.CanDelete = true, true, true, true
		default:
			return nil, fmt.Errorf("unknown action %q (want %s or all)", action, strings.Join(auth.Actions, ", "))
		}
	}
	return g, nil
}

func roleTable(ctx context.Context, roles repository.RoleRepository) (pterm.TableData, error) {
	list, err := roles.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	grants, err := roles.ListGrants(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	byRole := make(map[int64][]string)
	for _, g := range grants {
		byRole[g.RoleID] = append(byRole[g.RoleID], fmt.Sprintf("%s(%s)", g.FeatureCode, strings.Join(g.Actions(), ",")))
	}

	data := pterm.TableData{{"ID", "NAME", "DESCRIPTION", "GRANTS"}}
	for _, role := range list {
		entries := byRole[role.ID]
		sort.Strings(entries)
		data = append(data, []string{fmt.Sprint(role.ID), role.Name, role.Description, strings.Join(entries, " ")})
	}
	return data, nil
}

func init() {
	createCmd.Flags().StringVar(&descriptionFlag, "description", "", "Role description")
	grantCmd.Flags().StringSliceVar(&grantActions, "action", []string{"view"}, "Actions to grant: view, create, edit, delete, or all")

	RolesCmd.AddCommand(listCmd)
	RolesCmd.AddCommand(createCmd)
	RolesCmd.AddCommand(grantCmd)
}
