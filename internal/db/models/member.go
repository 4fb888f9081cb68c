// Package models - member.go defines tenant membership: the (user, tenant) pair
// a role attaches to, plus enriched views joining user details for display.
package models

import "time"

// TenantMember represents a user's membership in a tenant. Role is stored as its
// wire string ("owner", "superadmin", "admin", "member", "view-only"); the auth
// package owns the typed enum and rule tables.
type TenantMember struct {
	TenantID  string
	UserID    string
	Role      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TenantMemberWithUser includes user details for member listings.
type TenantMemberWithUser struct {
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	UserName  string    `json:"user_name"`
	UserEmail string    `json:"user_email"`
	CreatedAt time.Time `json:"created_at"`
}

// Membership is a user's view of one of their tenants, used to derive session
// claims when the token does not embed them.
type Membership struct {
	TenantID    string    `json:"tenant_id"`
	Subdomain   string    `json:"subdomain"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

// Invitation is a pending offer of membership at a given role.
type Invitation struct {
	ID         string
	TenantID   string
	Email      string
	Role       string
	TokenHash  string
	InvitedBy  string
	ExpiresAt  time.Time
	AcceptedAt *time.Time
	CreatedAt  time.Time
}

// Redeemable reports whether the invitation can still be accepted at the given instant.
func (i *Invitation) Redeemable(now time.Time) bool {
	return i.AcceptedAt == nil && i.ExpiresAt.After(now)
}

// CapabilityOverride adjusts a role's default capability set for one tenant.
type CapabilityOverride struct {
	TenantID   string `db:"tenant_id" json:"tenant_id"`
	Role       string `db:"role" json:"role"`
	Capability string `db:"capability" json:"capability"`
	Allowed    bool   `db:"allowed" json:"allowed"`
}
