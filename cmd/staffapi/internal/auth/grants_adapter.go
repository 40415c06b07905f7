package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/casbin/casbin/v2/model"

	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/db/models"
)

// ErrReadOnlyPolicy is returned by the adapter's mutating methods. Grants are
// edited through the role repository and picked up by Reload.
var ErrReadOnlyPolicy = errors.New("grant policy is read-only")

// GrantLister reads feature grants from storage.
type GrantLister interface {
	ListGrants(ctx context.Context) ([]models.PermissionGrant, error)
}

// GrantsAdapter is a casbin persist.Adapter that derives "p" rules from the
// permission_grants table: one rule per granted action.
type GrantsAdapter struct {
	grants GrantLister
}

// NewGrantsAdapter creates an adapter over grants.
func NewGrantsAdapter(grants GrantLister) *GrantsAdapter {
	return &GrantsAdapter{grants: grants}
}

// RoleSubject is the casbin subject for a role ID.
func RoleSubject(roleID int64) string {
	return "role:" + strconv.FormatInt(roleID, 10)
}

// LoadPolicy loads every grant into the model.
func (a *GrantsAdapter) LoadPolicy(m model.Model) error {
	grants, err := a.grants.ListGrants(context.Background())
	if err != nil {
		return fmt.Errorf("failed to load grants: %w", err)
	}
	for _, g := range grants {
		for _, action := range g.Actions() {
			if err := m.AddPolicy("p", "p", []string{RoleSubject(g.RoleID), g.FeatureCode, action}); err != nil {
				return fmt.Errorf("add policy for role %d: %w", g.RoleID, err)
			}
		}
	}
	return nil
}

func (a *GrantsAdapter) SavePolicy(model.Model) error { return ErrReadOnlyPolicy }

func (a *GrantsAdapter) AddPolicy(string, string, []string) error { return ErrReadOnlyPolicy }

func (a *GrantsAdapter) RemovePolicy(string, string, []string) error { return ErrReadOnlyPolicy }

func (a *GrantsAdapter) RemoveFilteredPolicy(string, string, int, ...string) error {
	return ErrReadOnlyPolicy
}
