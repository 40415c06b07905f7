package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/staffgrid/cmd/staffctl/internal/config"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user and active role",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.MustFromContext(cmd.Context())
		orch, err := cfg.ClientProvider.AuthenticatedOrchestrator(cmd.Context())
		if err != nil {
			return err
		}

		snap := orch.Snapshot()
		p := snap.Principal

		pterm.DefaultSection.Println("Signed in")
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "Name:\t%s\n", p.DisplayName)
		fmt.Fprintf(w, "Email:\t%s\n", p.Email)
		fmt.Fprintf(w, "User ID:\t%s\n", p.ID)
		fmt.Fprintf(w, "Active role:\t%s (id %d)\n", p.ActiveRole.RoleName, p.ActiveRole.RoleID)
		fmt.Fprintf(w, "Token expires:\t%s\n", snap.ExpiresAt().Format(time.RFC1123))
		w.Flush()

		if snap.Recoverable() {
			pterm.Warning.Println(snap.LastError.UserMessage())
		}
		return nil
	},
}
