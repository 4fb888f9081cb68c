// guard.go implements the authorization guard: the single decision function
// that turns (claims result, route tenant, optional role allowlist) into an
// allow/deny outcome.
//
// Evaluate is pure and synchronous. Redirects, JSON denials, and toast-style
// payloads are layered on top by the delivery code (middleware, handlers);
// the guard itself never touches a transport. Denial logging and metrics live
// in Record, off the decision path.
package auth

import (
	"log/slog"
	"strings"

	"github.com/tenantgate/tenantgate/internal/telemetry"
)

// DenialReason is the closed set of reasons a guard evaluation can deny.
type DenialReason string

const (
	// ReasonNoSession: absent, unverifiable, or unconfirmed-email credential.
	ReasonNoSession DenialReason = "no_session"
	// ReasonWrongSubdomain: valid session for a different tenant. The highest
	// severity case — it indicates cross-tenant leakage risk if mishandled.
	ReasonWrongSubdomain DenialReason = "wrong_subdomain"
	// ReasonInsufficientRole: right tenant, role not in the allowlist.
	ReasonInsufficientRole DenialReason = "insufficient_role"
	// ReasonError: transient backend failure during claims extraction.
	ReasonError DenialReason = "error"
)

// Decision is the tagged result of one guard evaluation: either allowed with
// the validated claims exposed, or denied with a reason and enough context to
// compose a user-facing message.
type Decision struct {
	Allowed bool
	Claims  *Claims // set when Allowed

	Reason       DenialReason
	ActualRole   Role   // set for insufficient_role
	AllowedRoles []Role // set for insufficient_role
	Subdomain    string // the route subdomain the evaluation ran against
}

// Allowed constructs an allow decision.
func allowed(claims *Claims, subdomain string) Decision {
	return Decision{Allowed: true, Claims: claims, Subdomain: subdomain}
}

func denied(reason DenialReason, subdomain string) Decision {
	return Decision{Reason: reason, Subdomain: subdomain}
}

// Evaluate runs one authorization check.
//
// Order of checks, applied uniformly on every delivery surface:
//  1. extraction failure or missing claims → no_session (transient errors → error)
//  2. unconfirmed email → no_session (forces re-authentication before any
//     role consideration)
//  3. claims subdomain ≠ route subdomain → wrong_subdomain, regardless of role
//  4. allowlist supplied and role not in it → insufficient_role
//  5. otherwise allowed
//
// The subdomain comparison is the tenant-isolation invariant: a valid session
// for tenant A never authorizes tenant B's routes, even for owners.
func Evaluate(result ClaimsResult, routeSubdomain string, allowedRoles []Role) Decision {
	route := strings.ToLower(strings.TrimSpace(routeSubdomain))

	if result.Err != nil {
		if result.Err == ErrNoSession {
			return denied(ReasonNoSession, route)
		}
		return denied(ReasonError, route)
	}

	claims := result.Claims
	if claims == nil {
		return denied(ReasonNoSession, route)
	}

	if !claims.EmailConfirmed {
		return denied(ReasonNoSession, route)
	}

	if !strings.EqualFold(claims.Subdomain, route) || route == "" {
		return denied(ReasonWrongSubdomain, route)
	}

	if len(allowedRoles) > 0 && !RoleIn(claims.UserRole, allowedRoles) {
		d := denied(ReasonInsufficientRole, route)
		d.ActualRole = claims.UserRole
		d.AllowedRoles = allowedRoles
		return d
	}

	return allowed(claims, route)
}

// Record emits the observability side effects for a decision: a metrics
// counter always, and a structured log line on denial. component names the
// guard call site (e.g. "require_tenant_auth", "members_api"). Record never
// alters the decision.
func Record(component string, d Decision) {
	if d.Allowed {
		telemetry.GuardDecisionsTotal.WithLabelValues("allowed").Inc()
		return
	}

	telemetry.GuardDecisionsTotal.WithLabelValues(string(d.Reason)).Inc()

	attrs := []any{"component", component, "reason", string(d.Reason), "subdomain", d.Subdomain}
	if d.Reason == ReasonInsufficientRole {
		attrs = append(attrs, "actual_role", string(d.ActualRole), "allowed_roles", RoleStrings(d.AllowedRoles))
	}

	// Expected, routine outcomes log at info; only transient backend trouble
	// warrants the telemetry sink's attention.
	if d.Reason == ReasonError {
		slog.Error("authorization check failed", attrs...)
		return
	}
	slog.Info("authorization denied", attrs...)
}
