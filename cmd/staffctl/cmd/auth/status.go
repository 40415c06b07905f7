package auth

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/staffgrid/cmd/staffctl/internal/config"
	"github.com/terraconstructs/staffgrid/pkg/sdk"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display authentication status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.MustFromContext(cmd.Context())
		orch, err := cfg.ClientProvider.Orchestrator(cmd.Context())
		if err != nil {
			return err
		}

		snap := orch.Snapshot()
		if !snap.IsAuthenticated() {
			return fmt.Errorf("not logged in")
		}

		// A failed permission load is reported in the output rather than
		// failing the command.
		_ = orch.EnsurePermissionsLoaded(cmd.Context())
		snap = orch.Snapshot()

		pterm.DefaultSection.Println("Authentication Status")
		pterm.Info.Printf("Server: %s\n", cfg.ServerURL)
		pterm.Info.Printf("Logged in with token expiring at: %s\n", snap.ExpiresAt().Format(time.RFC1123))
		writeStatus(os.Stdout, snap)
		if snap.Recoverable() {
			pterm.Warning.Println(snap.LastError.UserMessage())
		}
		return nil
	},
}

// writeStatus renders the identity and role table for an authenticated
// session.
func writeStatus(out io.Writer, snap sdk.Session) {
	p := snap.Principal
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "USER\t%s <%s>\n", p.DisplayName, p.Email)
	fmt.Fprintf(w, "ACTIVE ROLE\t%s\n", p.ActiveRole.RoleName)

	roles := make([]string, 0, len(p.AvailableRoles))
	for _, r := range p.AvailableRoles {
		name := r.RoleName
		if r.IsPrimary {
			name += " (primary)"
		}
		roles = append(roles, name)
	}
	if len(roles) > 0 {
		fmt.Fprintf(w, "ROLES\t%s\n", strings.Join(roles, ", "))
	}

	features := p.ActiveRole.Permissions.Features()
	switch {
	case p.FromClaims && len(features) == 0:
		fmt.Fprintln(w, "FEATURES\t(not loaded)")
	default:
		fmt.Fprintf(w, "FEATURES\t%d\n", len(features))
	}
	w.Flush()
}
