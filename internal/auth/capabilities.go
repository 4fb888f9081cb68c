package auth

import "sort"

// Capability names a discrete permission a role grants inside a tenant.
type Capability string

const (
	CapViewDashboard    Capability = "view_dashboard"
	CapManageMembers    Capability = "manage_members"
	CapInviteMembers    Capability = "invite_members"
	CapManageBilling    Capability = "manage_billing"
	CapManageSettings   Capability = "manage_settings"
	CapViewAuditLog     Capability = "view_audit_log"
	CapExportData       Capability = "export_data"
	CapDeleteTenant     Capability = "delete_tenant"
)

// AllCapabilities returns every known capability. Unknown capability strings in
// override rows are ignored rather than invented into the set.
func AllCapabilities() []Capability {
	return []Capability{
		CapViewDashboard,
		CapManageMembers,
		CapInviteMembers,
		CapManageBilling,
		CapManageSettings,
		CapViewAuditLog,
		CapExportData,
		CapDeleteTenant,
	}
}

func validCapability(c Capability) bool {
	for _, known := range AllCapabilities() {
		if c == known {
			return true
		}
	}
	return false
}

// roleDefaults is the baseline capability grant per role before any per-tenant
// override is applied.
var roleDefaults = map[Role]map[Capability]bool{
	RoleOwner: {
		CapViewDashboard: true, CapManageMembers: true, CapInviteMembers: true,
		CapManageBilling: true, CapManageSettings: true, CapViewAuditLog: true,
		CapExportData: true, CapDeleteTenant: true,
	},
	RoleSuperadmin: {
		CapViewDashboard: true, CapManageMembers: true, CapInviteMembers: true,
		CapManageBilling: true, CapManageSettings: true, CapViewAuditLog: true,
		CapExportData: true,
	},
	RoleAdmin: {
		CapViewDashboard: true, CapManageMembers: true, CapInviteMembers: true,
		CapManageSettings: true, CapViewAuditLog: true,
	},
	RoleMember: {
		CapViewDashboard: true, CapExportData: true,
	},
	RoleViewOnly: {
		CapViewDashboard: true,
	},
}

// Override adjusts one capability for one role, sourced from a tenant's
// capability_overrides rows.
type Override struct {
	Role       Role
	Capability Capability
	Allowed    bool
}

// ResolveCapabilities layers a tenant's overrides on top of the role defaults
// and returns the granted capabilities, sorted for stable output. Overrides
// naming unknown roles or capabilities are skipped.
func ResolveCapabilities(role Role, overrides []Override) []Capability {
	defaults, ok := roleDefaults[role]
	if !ok {
		return nil
	}

	granted := make(map[Capability]bool, len(defaults))
	for c, allowed := range defaults {
		granted[c] = allowed
	}
	for _, o := range overrides {
		if o.Role != role || !validCapability(o.Capability) {
			continue
		}
		granted[o.Capability] = o.Allowed
	}

	var out []Capability
	for c, allowed := range granted {
		if allowed {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HasCapability reports whether the role, with the given overrides applied,
// holds the capability.
func HasCapability(role Role, overrides []Override, c Capability) bool {
	for _, got := range ResolveCapabilities(role, overrides) {
		if got == c {
			return true
		}
	}
	return false
}
