package role

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/staffgrid/pkg/sdk"
)

var (
	refresh      bool
	outputFormat string
	checkFeature string
	checkAction  string
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show the permission matrix of the active role",
	Long: `Prints the feature permissions granted to the active role.

Use --refresh to bypass the local cache and reload from the server, and
--feature/--action to check a single permission (exit status 1 when denied).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, err := orchestrator(cmd.Context())
		if err != nil {
			return err
		}
		if refresh {
			if err := orch.RefreshPermissions(cmd.Context()); err != nil {
				return fmt.Errorf("failed to refresh permissions: %w", err)
			}
		}

		p := orch.Snapshot().Principal
		if checkFeature != "" {
			action := sdk.Action(checkAction)
			if p.Can(checkFeature, action) {
				pterm.Success.Printf("%s may %s %s\n", p.ActiveRole.RoleName, action, checkFeature)
				return nil
			}
			return fmt.Errorf("%s may not %s %s", p.ActiveRole.RoleName, action, checkFeature)
		}

		switch outputFormat {
		case "json":
			return writePermissionsJSON(os.Stdout, p.ActiveRole)
		case "table", "":
			pterm.DefaultSection.Printf("Permissions for %s\n", p.ActiveRole.RoleName)
			if len(p.ActiveRole.Permissions) == 0 {
				pterm.Info.Println("No permissions granted")
				return nil
			}
			return pterm.DefaultTable.WithHasHeader().WithData(permissionTable(p.ActiveRole.Permissions)).Render()
		default:
			return fmt.Errorf("unsupported output format: %s", outputFormat)
		}
	},
}

func permissionTable(perms sdk.PermissionSet) pterm.TableData {
	data := pterm.TableData{{"FEATURE", "VIEW", "CREATE", "EDIT", "DELETE"}}
	for _, g := range perms {
		data = append(data, []string{g.FeatureCode, mark(g.CanView), mark(g.CanCreate), mark(g.CanEdit), mark(g.CanDelete)})
	}
	return data
}

func mark(allowed bool) string {
	if allowed {
		return "✓"
	}
	return "-"
}

type rolePermissionsJSON struct {
	RoleID      int64                 `json:"role_id"`
	Role        string                `json:"role"`
	Permissions []sdk.PermissionGrant `json:"permissions"`
}

func writePermissionsJSON(w io.Writer, role sdk.RoleAssignment) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rolePermissionsJSON{
		RoleID:      role.RoleID,
		Role:        role.RoleName,
		Permissions: role.Permissions,
	})
}

func init() {
	inspectCmd.Flags().BoolVar(&refresh, "refresh", false, "Reload permissions from the server")
	inspectCmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table or json")
	inspectCmd.Flags().StringVar(&checkFeature, "feature", "", "Check a single feature code")
	inspectCmd.Flags().StringVar(&checkAction, "action", string(sdk.ActionView), "Action to check with --feature: view, create, edit, delete")
}
