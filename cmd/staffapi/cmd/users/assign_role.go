package users

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/terraconstructs/staffgrid/cmd/staffapi/cmd/cmdutil"
	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/db/bunx"
)

var (
	assignEmail   string
	assignRole    string
	assignPrimary bool
)

var assignRoleCmd = &cobra.Command{
	Use:   "assign-role",
	Short: "Assign a role to an existing user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if assignEmail == "" || assignRole == "" {
			return fmt.Errorf("--email and --role are required")
		}
		cfg, err := cmdutil.LoadConfig(cmd)
		if err != nil {
			return err
		}
		db, err := cmdutil.OpenDB(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer bunx.Close(db)

		return assignUserRole(cmd.Context(), newRepos(db), assignEmail, assignRole, assignPrimary, cmd.OutOrStdout())
	},
}

func assignUserRole(ctx context.Context, r repos, email, roleName string, primary bool, out io.Writer) error {
	user, err := r.users.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to find user %q: %w", email, err)
	}
	roles, err := resolveRoles(ctx, r.roles, []string{roleName})
	if err != nil {
		return err
	}
	role := roles[0]

	if err := r.userRoles.Assign(ctx, user.ID, role.ID, primary); err != nil {
		return fmt.Errorf("failed to assign role '%s': %w", role.Name, err)
	}
	if primary {
		fmt.Fprintf(out, "Assigned role '%s' to %s as primary\n", role.Name, user.Email)
	} else {
		fmt.Fprintf(out, "Assigned role '%s' to %s\n", role.Name, user.Email)
	}
	return nil
}
