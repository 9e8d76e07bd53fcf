package workspace

import "sort"

// Role is a membership role within one workspace
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Permission is a named capability gated by role
type Permission string

const (
	PermManageWorkspace Permission = "canManageWorkspace"
	PermDeleteWorkspace Permission = "canDeleteWorkspace"
	PermManageMembers   Permission = "canManageMembers"
	PermManageBilling   Permission = "canManageBilling"
	PermSendInvoices    Permission = "canSendInvoices"
	PermCreateInvoices  Permission = "canCreateInvoices"
	PermUseAI           Permission = "canUseAI"
	PermViewAuditLog    Permission = "canViewAuditLog"
)

// permissionRoles is the static permission table. It is data, never derived from user input.
var permissionRoles = map[Permission][]Role{
	PermManageWorkspace: {RoleOwner, RoleAdmin},
	PermDeleteWorkspace: {RoleOwner},
	PermManageMembers:   {RoleOwner, RoleAdmin},
	PermManageBilling:   {RoleOwner},
	PermSendInvoices:    {RoleOwner, RoleAdmin, RoleMember},
	PermCreateInvoices:  {RoleOwner, RoleAdmin, RoleMember},
	PermUseAI:           {RoleOwner, RoleAdmin, RoleMember},
	PermViewAuditLog:    {RoleOwner, RoleAdmin},
}

// Roles lists every defined role
func Roles() []Role {
	return []Role{RoleOwner, RoleAdmin, RoleMember}
}

// Valid reports whether r is a defined role
func (r Role) Valid() bool {
	for _, known := range Roles() {
		if r == known {
			return true
		}
	}
	return false
}

// Permissions lists every defined permission in sorted order
func Permissions() []Permission {
	out := make([]Permission, 0, len(permissionRoles))
	for p := range permissionRoles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AllowedRoles returns a copy of the roles allowed to exercise p, and false for an undefined permission
func AllowedRoles(p Permission) ([]Role, bool) {
	roles, ok := permissionRoles[p]
	if !ok {
		return nil, false
	}
	return append([]Role(nil), roles...), true
}

// RoleAllows reports whether role holds permission p
func RoleAllows(role Role, p Permission) bool {
	for _, allowed := range permissionRoles[p] {
		if allowed == role {
			return true
		}
	}
	return false
}
