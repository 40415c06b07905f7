package role

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/terraconstructs/staffgrid/cmd/staffctl/internal/config"
	"github.com/terraconstructs/staffgrid/pkg/sdk"
)

// RoleCmd is the parent command for role operations
var RoleCmd = &cobra.Command{
	Use:   "role",
	Short: "Inspect and switch roles",
	Long:  `Commands for listing your roles, switching the active role, and inspecting its permissions.`,
}

func init() {
	RoleCmd.AddCommand(listCmd)
	RoleCmd.AddCommand(switchCmd)
	RoleCmd.AddCommand(inspectCmd)
}

func orchestrator(ctx context.Context) (*sdk.Orchestrator, error) {
	cfg := config.MustFromContext(ctx)
	return cfg.ClientProvider.AuthenticatedOrchestrator(ctx)
}

// findRole resolves a role by numeric id or case-insensitive name.
func findRole(p *sdk.Principal, ref string) (sdk.RoleAssignment, error) {
	if p == nil {
		return sdk.RoleAssignment{}, sdk.ErrNotAuthenticated
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		if r, ok := p.Role(id); ok {
			return r, nil
		}
	}
	if r, ok := p.RoleByName(ref); ok {
		return r, nil
	}
	return sdk.RoleAssignment{}, fmt.Errorf("%w: %q", sdk.ErrRoleNotAvailable, ref)
}
