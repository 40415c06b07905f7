package role

import (
	"errors"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/staffgrid/pkg/sdk"
)

var switchCmd = &cobra.Command{
	Use:   "switch <role-id|role-name>",
	Short: "Change the active role",
	Long: `Asks the server to change your active role, then reloads the permission set
for the new role. If the server accepted the change but the permissions could
not be loaded, rerun 'staffctl role inspect --refresh'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, err := orchestrator(cmd.Context())
		if err != nil {
			return err
		}

		target, err := findRole(orch.Snapshot().Principal, args[0])
		if err != nil {
			return err
		}
		if target.RoleID == orch.Snapshot().Principal.ActiveRole.RoleID {
			pterm.Info.Printf("%s is already the active role\n", target.RoleName)
			return nil
		}

		if err := orch.SwitchRole(cmd.Context(), target); err != nil {
			var sdkErr *sdk.Error
			if errors.As(err, &sdkErr) {
				if sdkErr.BackendSwitched {
					pterm.Warning.Println(sdkErr.UserMessage())
					return fmt.Errorf("role switched to %s but permissions are stale; run `staffctl role inspect --refresh`", target.RoleName)
				}
				return fmt.Errorf("failed to switch role: %s", sdkErr.UserMessage())
			}
			return fmt.Errorf("failed to switch role: %w", err)
		}

		pterm.Success.Printf("Active role is now %s\n", orch.Snapshot().Principal.ActiveRole.RoleName)
		return nil
	},
}
