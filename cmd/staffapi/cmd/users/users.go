package users

import (
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"

	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/repository"
)

// UsersCmd is the parent command for user management operations
var UsersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage portal users",
	Long:  `Commands for managing portal accounts and their role assignments directly from the server.`,
}

type repos struct {
	users     repository.UserRepository
	roles     repository.RoleRepository
	userRoles repository.UserRoleRepository
}

func newRepos(db *bun.DB) repos {
	return repos{
		users:     repository.NewBunUserRepository(db),
		roles:     repository.NewBunRoleRepository(db),
		userRoles: repository.NewBunUserRoleRepository(db),
	}
}

func init() {
	createCmd.Flags().StringVar(&emailFlag, "email", "", "Email address of the user")
	createCmd.Flags().StringVar(&firstNameFlag, "first-name", "", "First name")
	createCmd.Flags().StringVar(&lastNameFlag, "last-name", "", "Last name")
	createCmd.Flags().StringVar(&passwordFlag, "password", "", "Password for the user (use --stdin to avoid shell history)")
	createCmd.Flags().BoolVar(&stdinFlag, "stdin", false, "Read password from stdin instead of --password flag")
	createCmd.Flags().StringSliceVar(&rolesInput, "role", []string{}, "Role(s) to assign; the first becomes primary (required)")

	assignRoleCmd.Flags().StringVar(&assignEmail, "email", "", "Email address of the user")
	assignRoleCmd.Flags().StringVar(&assignRole, "role", "", "Role name to assign")
	assignRoleCmd.Flags().BoolVar(&assignPrimary, "primary", false, "Make the role the user's primary role")

	UsersCmd.AddCommand(createCmd)
	UsersCmd.AddCommand(assignRoleCmd)
}
