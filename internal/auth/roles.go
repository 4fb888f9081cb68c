// Package auth implements the security core of TenantGate: session claims,
// the authorization guard, and the role-change policy.
//
// Roles are a closed enum, not a total order. owner sits above superadmin,
// which sits above admin; member and view-only are distinct labels with no
// ordering between them. Every permission question is answered by an explicit
// rule table rather than numeric comparison, so adding a role forces every
// table to be revisited.
package auth

import "fmt"

// Role is a member's role within a single tenant. Roles attach to the
// (user, tenant) pair, never to the user globally.
type Role string

const (
	RoleOwner      Role = "owner"
	RoleSuperadmin Role = "superadmin"
	RoleAdmin      Role = "admin"
	RoleMember     Role = "member"
	RoleViewOnly   Role = "view-only"
)

// AllRoles returns every valid role.
func AllRoles() []Role {
	return []Role{RoleOwner, RoleSuperadmin, RoleAdmin, RoleMember, RoleViewOnly}
}

// ParseRole converts a wire string into a Role, rejecting unknown values.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleOwner, RoleSuperadmin, RoleAdmin, RoleMember, RoleViewOnly:
		return Role(s), nil
	}
	return "", fmt.Errorf("invalid role: %q", s)
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// Managerial reports whether the role carries any member-management authority.
// member and view-only may manage no one.
func (r Role) Managerial() bool {
	switch r {
	case RoleOwner, RoleSuperadmin, RoleAdmin:
		return true
	}
	return false
}

// RoleIn reports whether r is a member of the given set.
func RoleIn(r Role, set []Role) bool {
	for _, s := range set {
		if r == s {
			return true
		}
	}
	return false
}

// RoleStrings converts a role set to its wire strings, for messages and logs.
func RoleStrings(set []Role) []string {
	out := make([]string, len(set))
	for i, r := range set {
		out[i] = string(r)
	}
	return out
}
