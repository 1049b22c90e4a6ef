package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/saltstack/jema/internal/rbac"
)

// TestPurpose: Validates the transitive closure of the built-in role table.
// Scope: Unit Test
// Security: Role escalation boundaries
// Expected: Each role implies itself and every lower role, never a higher one.
// Test Case ID: ROL-01
func TestImpliedRoles(t *testing.T) {
	tests := []struct {
		role string
		want []string
	}{
		{rbac.RoleCommitter, []string{"committer"}},
		{rbac.RoleContributor, []string{"committer", "contributor"}},
		{rbac.RolePusher, []string{"committer", "contributor", "pusher"}},
		{rbac.RoleManager, []string{"committer", "contributor", "manager", "pusher"}},
		{rbac.RoleAdministrator, []string{"administrator", "committer", "contributor", "manager", "pusher"}},
		{"deploy:prod", []string{"deploy:prod"}},
	}

	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			assert.Equal(t, tt.want, ImpliedRoles(tt.role))
		})
	}
}

// TestPurpose: Validates the reverse index used for role permissions.
// Scope: Unit Test
// Expected: RolesImplying(r) lists r and every role above it.
// Test Case ID: ROL-02
func TestRolesImplying(t *testing.T) {
	assert.Equal(t,
		[]string{"administrator", "committer", "contributor", "manager", "pusher"},
		RolesImplying(rbac.RoleCommitter))
	assert.Equal(t, []string{"administrator", "manager"}, RolesImplying(rbac.RoleManager))
	assert.Equal(t, []string{"administrator"}, RolesImplying(rbac.RoleAdministrator))
	assert.Equal(t, []string{"unknown"}, RolesImplying("unknown"))
}

func TestImpliedRoles_ReturnsCopy(t *testing.T) {
	roles := ImpliedRoles(rbac.RoleAdministrator)
	roles[0] = "tampered"
	assert.Equal(t, "administrator", ImpliedRoles(rbac.RoleAdministrator)[0])
}

func TestBuiltInRoles(t *testing.T) {
	assert.Len(t, BuiltInRoles(), 5)
	assert.True(t, IsBuiltInRole(rbac.RolePusher))
	assert.False(t, IsBuiltInRole("deploy:prod"))
}

// TestPurpose: Validates permission checks against provided needs.
// Scope: Unit Test
// Security: Access control decisions
// Expected: Higher roles satisfy lower role permissions; empty permissions pass everyone.
// Test Case ID: ROL-03
func TestPermission_AllowedBy(t *testing.T) {
	manager := NewNeedSet(AuthenticatedNeed)
	for _, r := range ImpliedRoles(rbac.RoleManager) {
		manager.Add(RoleNeed(r))
	}

	assert.True(t, CommitterPermission.AllowedBy(manager))
	assert.True(t, PusherPermission.AllowedBy(manager))
	assert.True(t, ManagerPermission.AllowedBy(manager))
	assert.False(t, AdministratorPermission.AllowedBy(manager))

	anonymous := NewNeedSet(AnonymousNeed)
	assert.True(t, AnonymousPermission.AllowedBy(anonymous))
	assert.False(t, AuthenticatedPermission.AllowedBy(anonymous))
	assert.False(t, CommitterPermission.AllowedBy(anonymous))

	assert.True(t, ActionPermission("deploy:prod").AllowedBy(NewNeedSet(ActionNeed("deploy:prod"))))
	assert.False(t, ActionPermission("deploy:prod").AllowedBy(NewNeedSet(RoleNeed("deploy:prod"))))
}

// TestPurpose: Validates the package-level role permissions carry the implying roles.
// Scope: Unit Test
// Security: Role hierarchy enforced on the permission side
// Expected: A single higher role need satisfies every lower role permission and no higher one.
// Test Case ID: ROL-04
func TestBuiltInPermissions_AcceptImplyingRoles(t *testing.T) {
	assert.True(t, CommitterPermission.AllowedBy(NewNeedSet(RoleNeed(rbac.RoleManager))))
	assert.True(t, ContributorPermission.AllowedBy(NewNeedSet(RoleNeed(rbac.RolePusher))))
	assert.True(t, ManagerPermission.AllowedBy(NewNeedSet(RoleNeed(rbac.RoleAdministrator))))
	assert.True(t, PusherPermission.AllowedBy(NewNeedSet(RoleNeed(rbac.RoleAdministrator))))
	assert.False(t, ManagerPermission.AllowedBy(NewNeedSet(RoleNeed(rbac.RolePusher))))
	assert.False(t, AdministratorPermission.AllowedBy(NewNeedSet(RoleNeed(rbac.RoleManager))))

	for _, role := range BuiltInRoles() {
		assert.ElementsMatch(t, RolesImplying(role), RolePermission(role).Needs().OfKind(KindRole), role)
	}
}

func TestIdentity_Require(t *testing.T) {
	anon := NewAnonymousIdentity()
	assert.ErrorIs(t, anon.Require(CommitterPermission), ErrNotAuthenticated)
	assert.NoError(t, anon.Require(AnonymousPermission))

	var nilID *Identity
	assert.False(t, nilID.Can(AuthenticatedPermission))
	assert.True(t, nilID.Can(AnonymousPermission))
}
