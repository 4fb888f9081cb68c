// claims.go implements the claims extractor: turning a raw session token into a
// trusted Claims value, either straight from the token (fast path) or by
// merging in the user's profile row when the token lacks tenant fields.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tenantgate/tenantgate/internal/db/repositories"
)

// ErrNoSession marks an absent or unverifiable credential. It is distinct from
// transient lookup failures so the guard can pick the correct redirect reason.
var ErrNoSession = errors.New("no session")

// ClaimsResult is the outcome of claims extraction. Exactly one of Claims or
// Err is set. Err is either ErrNoSession or a wrapped transient error.
type ClaimsResult struct {
	Claims *Claims
	Err    error
}

// NoSessionResult is the ClaimsResult for requests carrying no credential.
func NoSessionResult() ClaimsResult {
	return ClaimsResult{Err: ErrNoSession}
}

// Extractor resolves session tokens to Claims. It consults the user and
// membership repositories only on the derived (slow) path, and the re-auth
// stamp store on every extraction.
type Extractor struct {
	users         *repositories.UserRepository
	members       *repositories.MemberRepository
	stamps        *Stamps // nil disables forced re-auth checks
	lookupTimeout time.Duration
}

// NewExtractor creates an Extractor. stamps may be nil. lookupTimeout bounds
// the profile lookup on the derived path; a hung backend surfaces as a
// transient error instead of hanging the guard.
func NewExtractor(users *repositories.UserRepository, members *repositories.MemberRepository, stamps *Stamps, lookupTimeout time.Duration) *Extractor {
	if lookupTimeout <= 0 {
		lookupTimeout = 5 * time.Second
	}
	return &Extractor{users: users, members: members, stamps: stamps, lookupTimeout: lookupTimeout}
}

// Extract validates the raw token and returns its claims.
//
// Fast path: the token embeds subdomain, org id, and role — no network round
// trip beyond the re-auth stamp check.
//
// Derived path: the token lacks tenant fields (e.g. minted right after OIDC
// callback, before any tenant context). The authenticated user is fetched and
// the membership row for routeSubdomain (or the user's sole membership when no
// route context exists) supplies org id, role, and subdomain.
func (e *Extractor) Extract(ctx context.Context, rawToken, routeSubdomain string) ClaimsResult {
	if rawToken == "" {
		return NoSessionResult()
	}

	claims, err := ValidateJWT(rawToken)
	if err != nil {
		// An unverifiable token and no token are the same thing to the caller.
		return NoSessionResult()
	}

	if e.stamps != nil && claims.IssuedAt != nil {
		if e.stamps.RequiresReauth(ctx, claims.UserID, claims.IssuedAt.Time) {
			slog.Info("session predates re-auth stamp, forcing re-authentication", "user_id", claims.UserID)
			return NoSessionResult()
		}
	}

	if claims.HasTenantClaims() {
		return ClaimsResult{Claims: claims}
	}

	if claims.OrgID == "" {
		slog.Info("require_tenant_auth_missing_org_id", "user_id", claims.UserID)
	}
	if claims.UserRole == "" {
		slog.Info("require_tenant_auth_missing_user_role", "user_id", claims.UserID)
	}

	return e.derive(ctx, claims, routeSubdomain)
}

// derive fills tenant claims from the profile row. Lookup errors propagate as
// transient errors, distinguishable from ErrNoSession.
func (e *Extractor) derive(ctx context.Context, claims *Claims, routeSubdomain string) ClaimsResult {
	ctx, cancel := context.WithTimeout(ctx, e.lookupTimeout)
	defer cancel()

	user, err := e.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return ClaimsResult{Err: fmt.Errorf("user lookup: %w", err)}
	}
	if user == nil {
		// Token refers to a deleted account.
		return NoSessionResult()
	}

	membership, err := e.lookupMembership(ctx, claims.UserID, routeSubdomain)
	if err != nil {
		return ClaimsResult{Err: fmt.Errorf("profile lookup: %w", err)}
	}
	if membership == nil {
		// Authenticated but not a member of any (or the requested) tenant. The
		// guard turns this into a wrong-subdomain denial via the empty subdomain.
		claims.EmailConfirmed = user.EmailConfirmed
		return ClaimsResult{Claims: claims}
	}

	role, err := ParseRole(membership.Role)
	if err != nil {
		return ClaimsResult{Err: fmt.Errorf("profile row carries %w", err)}
	}

	claims.Subdomain = membership.Subdomain
	claims.OrgID = membership.TenantID
	claims.UserRole = role
	claims.CompanyName = membership.DisplayName
	claims.EmailConfirmed = user.EmailConfirmed

	return ClaimsResult{Claims: claims}
}

func (e *Extractor) lookupMembership(ctx context.Context, userID, routeSubdomain string) (membership *membershipRow, err error) {
	if routeSubdomain != "" {
		ms, err := e.members.GetMembershipBySubdomain(ctx, userID, routeSubdomain)
		if err != nil {
			return nil, err
		}
		if ms == nil {
			return nil, nil
		}
		return &membershipRow{TenantID: ms.TenantID, Subdomain: ms.Subdomain, DisplayName: ms.DisplayName, Role: ms.Role}, nil
	}

	all, err := e.members.ListMemberships(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}
	// Oldest membership wins when the route gives no tenant context.
	ms := all[0]
	return &membershipRow{TenantID: ms.TenantID, Subdomain: ms.Subdomain, DisplayName: ms.DisplayName, Role: ms.Role}, nil
}

type membershipRow struct {
	TenantID    string
	Subdomain   string
	DisplayName string
	Role        string
}
