package sdk

import (
	"sort"
	"strings"
)

// Action is one of the four operations a permission grant can allow.
type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// PermissionGrant is the set of allowed actions on one feature.
type PermissionGrant struct {
	FeatureCode string `json:"feature_code"`
	CanView     bool   `json:"can_view"`
	CanCreate   bool   `json:"can_create"`
	CanEdit     bool   `json:"can_edit"`
	CanDelete   bool   `json:"can_delete"`
}

// Allows reports whether the grant permits action.
func (g PermissionGrant) Allows(action Action) bool {
	switch action {
	case ActionView:
		return g.CanView
	case ActionCreate:
		return g.CanCreate
	case ActionEdit:
		return g.CanEdit
	case ActionDelete:
		return g.CanDelete
	default:
		return false
	}
}

// PermissionSet is a normalized list of grants: unique by feature code and
// sorted by it. Build one with NewPermissionSet.
type PermissionSet []PermissionGrant

// NewPermissionSet normalizes grants. When a feature code appears more than
// once the last grant wins. Grants with an empty feature code are dropped.
func NewPermissionSet(grants []PermissionGrant) PermissionSet {
	if len(grants) == 0 {
		return PermissionSet{}
	}
	byCode := make(map[string]PermissionGrant, len(grants))
	for _, g := range grants {
		code := strings.TrimSpace(g.FeatureCode)
		if code == "" {
			continue
		}
		g.FeatureCode = code
		byCode[code] = g
	}
	set := make(PermissionSet, 0, len(byCode))
	for _, g := range byCode {
		set = append(set, g)
	}
	sort.Slice(set, func(i, j int) bool { return set[i].FeatureCode < set[j].FeatureCode })
	return set
}

// Lookup returns the grant for featureCode.
func (s PermissionSet) Lookup(featureCode string) (PermissionGrant, bool) {
	i := sort.Search(len(s), func(i int) bool { return s[i].FeatureCode >= featureCode })
	if i < len(s) && s[i].FeatureCode == featureCode {
		return s[i], true
	}
	return PermissionGrant{}, false
}

// Can reports whether the set allows action on featureCode.
func (s PermissionSet) Can(featureCode string, action Action) bool {
	g, ok := s.Lookup(featureCode)
	return ok && g.Allows(action)
}

// Features returns the feature codes in the set, sorted.
func (s PermissionSet) Features() []string {
	out := make([]string, len(s))
	for i, g := range s {
		out[i] = g.FeatureCode
	}
	return out
}

func (s PermissionSet) clone() PermissionSet {
	if s == nil {
		return PermissionSet{}
	}
	return append(PermissionSet(nil), s...)
}

// RoleAssignment is one role the principal holds.
type RoleAssignment struct {
	RoleID      int64         `json:"role_id"`
	RoleName    string        `json:"role_name"`
	Permissions PermissionSet `json:"permissions"`
	IsPrimary   bool          `json:"is_primary"`
	IsActive    bool          `json:"is_active"`
}

func (r RoleAssignment) clone() RoleAssignment {
	r.Permissions = r.Permissions.clone()
	return r
}

// Principal is the authenticated user as the client sees it.
// A Principal held by a Session is shared and must not be modified.
type Principal struct {
	ID                string           `json:"id"`
	Email             string           `json:"email"`
	DisplayName       string           `json:"display_name"`
	ProfilePictureURL string           `json:"profile_picture_url,omitempty"`
	ActiveRole        RoleAssignment   `json:"active_role"`
	AvailableRoles    []RoleAssignment `json:"available_roles"`
	// FromClaims marks a principal built from token claims alone. Its role
	// list is empty and its permission set is not yet loaded.
	FromClaims bool `json:"from_claims,omitempty"`
}

// HasPermissions reports whether the active role carries a loaded permission set.
func (p *Principal) HasPermissions() bool {
	return p != nil && len(p.ActiveRole.Permissions) > 0
}

// Can reports whether the active role allows action on featureCode.
func (p *Principal) Can(featureCode string, action Action) bool {
	if p == nil {
		return false
	}
	return p.ActiveRole.Permissions.Can(featureCode, action)
}

// Role returns the available role with the given id.
func (p *Principal) Role(roleID int64) (RoleAssignment, bool) {
	if p == nil {
		return RoleAssignment{}, false
	}
	for _, r := range p.AvailableRoles {
		if r.RoleID == roleID {
			return r, true
		}
	}
	return RoleAssignment{}, false
}

// RoleByName returns the available role with the given name (case-insensitive).
func (p *Principal) RoleByName(name string) (RoleAssignment, bool) {
	if p == nil {
		return RoleAssignment{}, false
	}
	for _, r := range p.AvailableRoles {
		if strings.EqualFold(r.RoleName, name) {
			return r, true
		}
	}
	return RoleAssignment{}, false
}

// Profile is the user profile returned alongside a permission set.
type Profile struct {
	ID             string           `json:"id"`
	Email          string           `json:"email"`
	FirstName      string           `json:"first_name"`
	LastName       string           `json:"last_name"`
	ProfilePicture string           `json:"profile_picture"`
	Roles          []RoleAssignment `json:"-"`
}

// ResolvedPermissions is the result of one permission fetch.
type ResolvedPermissions struct {
	RoleName    string
	Permissions PermissionSet
	Profile     Profile
}

// PrincipalFromClaims builds a principal from access-token claims alone.
// The active role carries the claimed role but no permissions.
func PrincipalFromClaims(claims TokenClaims) *Principal {
	id := claims.UserID
	if id == "" {
		id = claims.Subject
	}
	name := claims.Name
	if name == "" {
		name = claims.Email
	}
	return &Principal{
		ID:                id,
		Email:             claims.Email,
		DisplayName:       name,
		ProfilePictureURL: claims.Picture,
		ActiveRole: RoleAssignment{
			RoleID:      claims.RoleID,
			RoleName:    claims.Role,
			Permissions: PermissionSet{},
			IsActive:    true,
		},
		AvailableRoles: []RoleAssignment{},
		FromClaims:     true,
	}
}

// AssemblePrincipal builds a principal from a permission fetch. The active
// role is the profile role whose name matches the resolved role name, or the
// first profile role when none matches. It is the only role flagged active,
// and it carries the resolved permission set. Empty identity fields are
// filled from claims when claims is non-nil.
func AssemblePrincipal(resolved *ResolvedPermissions, claims *TokenClaims) *Principal {
	p := &Principal{
		ID:                resolved.Profile.ID,
		Email:             resolved.Profile.Email,
		DisplayName:       strings.TrimSpace(resolved.Profile.FirstName + " " + resolved.Profile.LastName),
		ProfilePictureURL: resolved.Profile.ProfilePicture,
	}
	if claims != nil {
		if p.ID == "" {
			p.ID = claims.UserID
		}
		if p.ID == "" {
			p.ID = claims.Subject
		}
		if p.Email == "" {
			p.Email = claims.Email
		}
		if p.DisplayName == "" {
			p.DisplayName = claims.Name
		}
		if p.ProfilePictureURL == "" {
			p.ProfilePictureURL = claims.Picture
		}
	}
	if p.DisplayName == "" {
		p.DisplayName = p.Email
	}

	roles := make([]RoleAssignment, len(resolved.Profile.Roles))
	active := -1
	for i, r := range resolved.Profile.Roles {
		r = r.clone()
		r.Permissions = NewPermissionSet(r.Permissions)
		r.IsActive = false
		roles[i] = r
		if active < 0 && r.RoleName == resolved.RoleName {
			active = i
		}
	}
	if active < 0 && len(roles) > 0 {
		active = 0
	}

	perms := NewPermissionSet(resolved.Permissions)
	if active >= 0 {
		roles[active].IsActive = true
		if len(perms) > 0 || roles[active].RoleName == resolved.RoleName {
			roles[active].Permissions = perms
		}
		p.ActiveRole = roles[active].clone()
	} else {
		p.ActiveRole = RoleAssignment{RoleName: resolved.RoleName, Permissions: perms, IsActive: true}
		if claims != nil {
			p.ActiveRole.RoleID = claims.RoleID
		}
	}
	p.AvailableRoles = roles
	return p
}
