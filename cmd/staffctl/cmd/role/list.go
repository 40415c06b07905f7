package role

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/terraconstructs/staffgrid/pkg/sdk"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the roles assigned to you",
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, err := orchestrator(cmd.Context())
		if err != nil {
			return err
		}
		p := orch.Snapshot().Principal
		if len(p.AvailableRoles) == 0 {
			fmt.Println("No roles loaded; run `staffctl role inspect --refresh`")
			return nil
		}
		writeRoles(os.Stdout, p)
		return nil
	},
}

func writeRoles(out io.Writer, p *sdk.Principal) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ACTIVE\tID\tNAME\tPRIMARY")
	for _, r := range p.AvailableRoles {
		active := ""
		if r.RoleID == p.ActiveRole.RoleID {
			active = "*"
		}
		primary := ""
		if r.IsPrimary {
			primary = "yes"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", active, r.RoleID, r.RoleName, primary)
	}
	w.Flush()
}
