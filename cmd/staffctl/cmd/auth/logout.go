package auth

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/staffgrid/cmd/staffctl/internal/config"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out of StaffGrid",
	Long: `Revokes the refresh token on the server when possible and always removes
the locally stored credentials.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.MustFromContext(cmd.Context())
		orch, err := cfg.ClientProvider.Orchestrator(cmd.Context())
		if err != nil {
			return err
		}

		wasSignedIn := orch.Snapshot().IsAuthenticated()
		if err := orch.Logout(cmd.Context()); err != nil {
			return err
		}
		if !wasSignedIn {
			pterm.Info.Println("No active session; local credentials cleared")
			return nil
		}
		pterm.Success.Println("Logged out successfully")
		return nil
	},
}
