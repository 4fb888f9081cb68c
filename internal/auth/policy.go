// policy.go implements the role-change policy: pure decision functions for who
// may promote, demote, or remove whom. No transport, no storage — handlers call
// these before any mutation and return the denial message verbatim.
//
// The denial strings are part of the observable contract; clients match on
// them. Change them and you break every consumer rendering permission errors.
package auth

// PolicyError is a policy denial carrying its contract message.
type PolicyError struct {
	Message string
}

func (e *PolicyError) Error() string {
	return e.Message
}

func deny(msg string) *PolicyError {
	return &PolicyError{Message: msg}
}

// Denial messages. Exact strings are load-bearing (see package comment).
const (
	msgSelfRemove          = "You cannot remove yourself from the organization"
	msgSelfRoleChange      = "You cannot change your own role"
	msgNoManageAuthority   = "Members cannot manage other members"
	msgOnlyOwnersElevate   = "Only owners can assign superadmin or owner roles"
	msgSuperadminTarget    = "Superadmins cannot modify owners or other superadmins"
	msgSuperadminRemove    = "Superadmins can only remove members and view-only users"
	msgAdminTarget         = "Admins can only manage members and view-only users"
	msgAdminAssign         = "Admins can only assign member or view-only roles"
	msgAdminRemove         = "Admins can only remove members and view-only users"
)

// removableTargets maps an actor role to the set of target roles it may remove.
// Self-removal is checked separately and always denied.
var removableTargets = map[Role]map[Role]bool{
	RoleOwner: {RoleOwner: true, RoleSuperadmin: true, RoleAdmin: true, RoleMember: true, RoleViewOnly: true},
	RoleSuperadmin: {RoleMember: true, RoleViewOnly: true},
	RoleAdmin:      {RoleMember: true, RoleViewOnly: true},
	RoleMember:     {},
	RoleViewOnly:   {},
}

// updatableTargets maps an actor role to the set of target current roles it may
// modify at all.
var updatableTargets = map[Role]map[Role]bool{
	RoleOwner: {RoleOwner: true, RoleSuperadmin: true, RoleAdmin: true, RoleMember: true, RoleViewOnly: true},
	RoleSuperadmin: {RoleAdmin: true, RoleMember: true, RoleViewOnly: true},
	RoleAdmin:      {RoleMember: true, RoleViewOnly: true},
	RoleMember:     {},
	RoleViewOnly:   {},
}

// assignableRoles maps an actor role to the set of new roles it may assign.
var assignableRoles = map[Role]map[Role]bool{
	RoleOwner: {RoleOwner: true, RoleSuperadmin: true, RoleAdmin: true, RoleMember: true, RoleViewOnly: true},
	RoleSuperadmin: {RoleAdmin: true, RoleMember: true, RoleViewOnly: true},
	RoleAdmin:      {RoleMember: true, RoleViewOnly: true},
	RoleMember:     {},
	RoleViewOnly:   {},
}

// CanRemoveMember decides whether actor may remove a target whose current role
// is targetRole. self marks a self-targeting action.
func CanRemoveMember(actor, targetRole Role, self bool) error {
	if self {
		return deny(msgSelfRemove)
	}
	if !actor.Managerial() {
		return deny(msgNoManageAuthority)
	}
	if removableTargets[actor][targetRole] {
		return nil
	}
	switch actor {
	case RoleSuperadmin:
		return deny(msgSuperadminRemove)
	default:
		return deny(msgAdminRemove)
	}
}

// CanUpdateRole decides whether actor may change a target's role from
// targetCurrent to requestedNew. self marks a self-targeting action.
func CanUpdateRole(actor, targetCurrent, requestedNew Role, self bool) error {
	if self {
		return deny(msgSelfRoleChange)
	}
	if !actor.Managerial() {
		return deny(msgNoManageAuthority)
	}

	if !updatableTargets[actor][targetCurrent] {
		switch actor {
		case RoleSuperadmin:
			return deny(msgSuperadminTarget)
		default:
			return deny(msgAdminTarget)
		}
	}

	if !assignableRoles[actor][requestedNew] {
		if requestedNew == RoleOwner || requestedNew == RoleSuperadmin {
			return deny(msgOnlyOwnersElevate)
		}
		return deny(msgAdminAssign)
	}

	return nil
}

// CanAssignRole decides whether actor may hand out requestedNew to someone who
// is not yet a member, e.g. via invitation. Existing members go through
// CanUpdateRole instead.
func CanAssignRole(actor, requestedNew Role) error {
	if !actor.Managerial() {
		return deny(msgNoManageAuthority)
	}
	if assignableRoles[actor][requestedNew] {
		return nil
	}
	if requestedNew == RoleOwner || requestedNew == RoleSuperadmin {
		return deny(msgOnlyOwnersElevate)
	}
	return deny(msgAdminAssign)
}

// AssignableRoles returns the roles the actor may hand out, e.g. for building
// invitation forms. The slice is ordered owner-first for stable display.
func AssignableRoles(actor Role) []Role {
	var out []Role
	for _, r := range AllRoles() {
		if assignableRoles[actor][r] {
			out = append(out, r)
		}
	}
	return out
}
