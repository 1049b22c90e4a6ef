package authz

import "github.com/saltstack/jema/internal/rbac"

// Permission is satisfied by any identity providing at least one of its
// needs. A permission without needs is satisfied by everyone.
type Permission struct {
	name  string
	needs NeedSet
}

// NewPermission declares a permission over needs
func NewPermission(name string, needs ...Need) Permission {
	return Permission{name: name, needs: NewNeedSet(needs...)}
}

// RolePermission is satisfied by role or any role implying it
func RolePermission(role string) Permission {
	roles := RolesImplying(role)
	needs := make([]Need, 0, len(roles))
	for _, r := range roles {
		needs = append(needs, RoleNeed(r))
	}
	return NewPermission(role, needs...)
}

// ActionPermission is satisfied by the ad-hoc action privilege name
func ActionPermission(name string) Permission {
	return NewPermission(name, ActionNeed(name))
}

func (p Permission) Name() string { return p.name }

// Needs returns a copy of the permission's needs
func (p Permission) Needs() NeedSet {
	out := make(NeedSet, len(p.needs))
	for n := range p.needs {
		out[n] = struct{}{}
	}
	return out
}

// AllowedBy reports whether needs satisfy the permission
func (p Permission) AllowedBy(needs NeedSet) bool {
	if len(p.needs) == 0 {
		return true
	}
	return p.needs.Intersects(needs)
}

// Built-in permissions
var (
	AnonymousPermission     = NewPermission(rbac.NeedAnonymous)
	AuthenticatedPermission = NewPermission(rbac.NeedAuthenticated, AuthenticatedNeed)

	CommitterPermission     = RolePermission(rbac.RoleCommitter)
	ContributorPermission   = RolePermission(rbac.RoleContributor)
	PusherPermission        = RolePermission(rbac.RolePusher)
	ManagerPermission       = RolePermission(rbac.RoleManager)
	AdministratorPermission = RolePermission(rbac.RoleAdministrator)
)

// BuiltInPermissions lists the permissions reported on the index view
func BuiltInPermissions() []Permission {
	return []Permission{
		AuthenticatedPermission,
		CommitterPermission,
		ContributorPermission,
		PusherPermission,
		ManagerPermission,
		AdministratorPermission,
	}
}
