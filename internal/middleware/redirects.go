// redirects.go defines the redirect contract: the fixed URLs a denied request
// is sent to. The query parameters are read by the frontend to pick the right
// prompt, so the exact strings are part of the observable contract.
package middleware

import (
	"github.com/tenantgate/tenantgate/internal/auth"
)

const (
	// LoginURL is the plain sign-in prompt.
	LoginURL = "/auth/login"
	// LoginNoSessionURL prompts sign-in after an absent or expired session.
	LoginNoSessionURL = "/auth/login?reason=no_session"
	// LoginUnauthorizedURL prompts sign-in with an unauthorized hint. Used for
	// wrong-subdomain denials; it deliberately does not say whether the tenant
	// exists for that user.
	LoginUnauthorizedURL = "/auth/login?error=unauthorized"
	// DashboardInsufficientURL lands the user on a safe page with an error flag
	// after an insufficient-role denial.
	DashboardInsufficientURL = "/dashboard?error=insufficient_permissions"
	// DashboardUsageLimitURL lands the user on the dashboard after a rate-limit
	// denial on an HTML surface.
	DashboardUsageLimitURL = "/dashboard?error=usage_limit_reached"
)

// RedirectFor maps a guard denial to its redirect target.
func RedirectFor(reason auth.DenialReason) string {
	switch reason {
	case auth.ReasonNoSession:
		return LoginNoSessionURL
	case auth.ReasonWrongSubdomain:
		return LoginUnauthorizedURL
	case auth.ReasonInsufficientRole:
		return DashboardInsufficientURL
	default:
		// Transient failures get the plain prompt; the underlying error text is
		// never shown to the end user.
		return LoginURL
	}
}
