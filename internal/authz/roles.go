package authz

import (
	"sort"

	"github.com/saltstack/jema/internal/rbac"
)

// -----------------------------------------------------------------------------
// Built-in Role Hierarchy
// Each role lists the roles it directly implies. The table is closed over
// during variable initialization; lookups never walk the chain.
// -----------------------------------------------------------------------------

var directlyImplies = map[string][]string{
	rbac.RoleAdministrator: {rbac.RoleManager},
	rbac.RoleManager:       {rbac.RolePusher},
	rbac.RolePusher:        {rbac.RoleContributor},
	rbac.RoleContributor:   {rbac.RoleCommitter},
	rbac.RoleCommitter:     nil,
}

// implied[r] is every role r implies, r included. implying[r] is every
// role that implies r, r included. Both are built in variable
// initialization so package-level permissions can use them.
var implied, implying = buildClosures()

func buildClosures() (map[string][]string, map[string][]string) {
	down := map[string][]string{}
	reverse := map[string]map[string]struct{}{}
	for role := range directlyImplies {
		closure := closeOver(role)
		down[role] = closure
		for _, r := range closure {
			if reverse[r] == nil {
				reverse[r] = map[string]struct{}{}
			}
			reverse[r][role] = struct{}{}
		}
	}
	up := make(map[string][]string, len(reverse))
	for role, set := range reverse {
		up[role] = sortedKeys(set)
	}
	return down, up
}

func closeOver(role string) []string {
	seen := map[string]struct{}{}
	stack := []string{role}
	for len(stack) > 0 {
		r := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		stack = append(stack, directlyImplies[r]...)
	}
	return sortedKeys(seen)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// IsBuiltInRole reports whether role is part of the built-in hierarchy.
func IsBuiltInRole(role string) bool {
	_, ok := directlyImplies[role]
	return ok
}

// BuiltInRoles returns the built-in role names, sorted.
func BuiltInRoles() []string {
	out := make([]string, 0, len(directlyImplies))
	for r := range directlyImplies {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// ImpliedRoles returns every role that role implies, role included. Names
// outside the built-in hierarchy are opaque and imply only themselves.
func ImpliedRoles(role string) []string {
	if roles, ok := implied[role]; ok {
		return append([]string(nil), roles...)
	}
	return []string{role}
}

// RolesImplying returns every role that implies role, role included. Names
// outside the built-in hierarchy are implied only by themselves.
func RolesImplying(role string) []string {
	if roles, ok := implying[role]; ok {
		return append([]string(nil), roles...)
	}
	return []string{role}
}
