// Copyright 2026 The JeMa Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rbac

// Built-in role names. A group privilege with one of these names grants the
// role and everything below it in the chain
// committer < contributor < pusher < manager < administrator.
// These values are stored in privileges.name and must remain stable.
const (
	RoleCommitter     = "committer"
	RoleContributor   = "contributor"
	RolePusher        = "pusher"
	RoleManager       = "manager"
	RoleAdministrator = "administrator"
)

// Special need values that are never persisted.
const (
	// NeedAnonymous is provided by every identity without an attached account.
	NeedAnonymous = "anonymous"

	// NeedAuthenticated is provided once an account is attached.
	NeedAuthenticated = "authenticated"
)

// AdministratorGroup is the group the administrator command adds accounts to.
// It carries the RoleAdministrator privilege.
const AdministratorGroup = "Administrator"

// Ad-hoc action privileges recorded by request handlers.
const (
	ActionBuildServerRegister = "build-server:register"
	ActionBuildServerRemove   = "build-server:remove"
)
