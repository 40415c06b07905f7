package auth

import (
	"fmt"
	"sort"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

// WildcardFeature grants its actions on every feature.
const WildcardFeature = "*"

// Actions in the order they appear in permission responses.
var Actions = []string{"view", "create", "edit", "delete"}

const grantModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && (p.obj == r.obj || p.obj == "*") && r.act == p.act
`

// GrantEnforcer answers "may role R perform action A on feature F" from the
// grants table.
type GrantEnforcer struct {
	enforcer *casbin.SyncedEnforcer
}

// NewGrantEnforcer builds an enforcer and loads the current grants.
func NewGrantEnforcer(grants GrantLister) (*GrantEnforcer, error) {
	m, err := model.NewModelFromString(grantModel)
	if err != nil {
		return nil, fmt.Errorf("parse casbin model: %w", err)
	}
	e, err := casbin.NewSyncedEnforcer(m, NewGrantsAdapter(grants))
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}
	e.EnableAutoSave(false)
	return &GrantEnforcer{enforcer: e}, nil
}

// Reload re-reads the grants table.
func (g *GrantEnforcer) Reload() error {
	if err := g.enforcer.LoadPolicy(); err != nil {
		return fmt.Errorf("reload casbin policies: %w", err)
	}
	return nil
}

// Allowed reports whether roleID may perform action on feature.
func (g *GrantEnforcer) Allowed(roleID int64, feature, action string) (bool, error) {
	ok, err := g.enforcer.Enforce(RoleSubject(roleID), feature, action)
	if err != nil {
		return false, fmt.Errorf("enforce %s %s: %w", feature, action, err)
	}
	return ok, nil
}

// Matrix evaluates every action for each feature in catalog and returns the
// allowed actions per feature, omitting features with none.
func (g *GrantEnforcer) Matrix(roleID int64, catalog []string) (map[string][]string, error) {
	out := make(map[string][]string)
	for _, feature := range catalog {
		for _, action := range Actions {
			ok, err := g.Allowed(roleID, feature, action)
			if err != nil {
				return nil, err
			}
			if ok {
				out[feature] = append(out[feature], action)
			}
		}
	}
	return out, nil
}

// Catalog returns the distinct non-wildcard feature codes named by grants.
func Catalog(features []string) []string {
	seen := make(map[string]struct{}, len(features))
	var out []string
	for _, f := range features {
		if f == WildcardFeature || f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
