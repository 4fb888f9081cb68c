// Package models - user.go defines the User model for accounts authenticated by
// password or OIDC.
package models

import "time"

// User represents an account. A user may belong to several tenants, each with
// its own role; roles live on TenantMember, never on the user itself.
type User struct {
	ID             string
	Email          string
	Name           string
	PasswordHash   *string // nil for OIDC-only accounts
	OIDCSub        *string // OIDC subject identifier (unique per provider)
	EmailConfirmed bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
