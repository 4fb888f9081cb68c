// Package models - tenant.go defines the Tenant model: an organization identified
// by a unique subdomain, the unit of data isolation for the whole system.
package models

import "time"

// Tenant represents an active organization reachable at <subdomain>.<root domain>.
// The subdomain is immutable once the tenant is active; there is no rename path.
type Tenant struct {
	ID          string
	Subdomain   string // lowercase [a-z0-9-], 3-63 chars, no leading/trailing hyphen
	DisplayName string
	Emoji       string
	// PermissionsChangedAt is bumped whenever any member's role changes. Sessions
	// minted before this instant must re-authenticate to pick up the new role.
	PermissionsChangedAt *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// SubdomainReservation is a time-boxed, unconfirmed claim on a subdomain made
// during signup. A subdomain is considered taken while an active tenant exists
// OR an unexpired, unconfirmed reservation exists.
type SubdomainReservation struct {
	ID               string
	Subdomain        string
	Email            string
	CompanyName      string
	ConfirmTokenHash string // SHA-256 of the emailed confirmation token; raw token is never stored
	ExpiresAt        time.Time
	ConfirmedAt      *time.Time // nil while pending
	CreatedAt        time.Time
}

// Live reports whether the reservation still blocks the subdomain at the given instant.
func (r *SubdomainReservation) Live(now time.Time) bool {
	return r.ConfirmedAt == nil && r.ExpiresAt.After(now)
}
