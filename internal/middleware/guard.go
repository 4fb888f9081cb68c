// guard.go delivers guard decisions over HTTP. The decision logic lives in
// auth.Evaluate; this middleware only picks how a denial reaches the client:
// a redirect for page navigation or a JSON body for API calls.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tenantgate/tenantgate/internal/auth"
)

// DeliveryMode selects how a denial is delivered.
type DeliveryMode int

const (
	// DeliverRedirect sends the denial as an HTTP redirect, before any
	// protected content is produced. Used on page-serving routes.
	DeliverRedirect DeliveryMode = iota
	// DeliverJSON sends the denial as a JSON error body with the matching
	// status code. Used on API routes consumed by scripts and the frontend.
	DeliverJSON
)

// ClaimsKey is the gin.Context key holding *auth.Claims after a guard allows
// the request.
const ClaimsKey = "claims"

// AllowedClaims returns the validated claims set by a passing guard.
func AllowedClaims(c *gin.Context) *auth.Claims {
	if v, exists := c.Get(ClaimsKey); exists {
		if claims, ok := v.(*auth.Claims); ok {
			return claims
		}
	}
	return nil
}

// RequireTenantAuth guards a route group: the session must belong to the
// route's tenant, and when allowedRoles is non-empty the member's role must be
// in the set. On denial the request is aborted and delivered per mode; on
// success the validated claims are stored under ClaimsKey.
func RequireTenantAuth(mode DeliveryMode, allowedRoles ...auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision := auth.Evaluate(ClaimsResultFrom(c), RouteSubdomain(c), allowedRoles)
		auth.Record("require_tenant_auth", decision)

		if decision.Allowed {
			c.Set(ClaimsKey, decision.Claims)
			c.Next()
			return
		}

		deliver(c, mode, decision)
	}
}

func deliver(c *gin.Context, mode DeliveryMode, d auth.Decision) {
	if mode == DeliverRedirect {
		c.Redirect(http.StatusSeeOther, RedirectFor(d.Reason))
		c.Abort()
		return
	}

	switch d.Reason {
	case auth.ReasonNoSession:
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":  "Authentication required",
			"reason": string(d.Reason),
		})
	case auth.ReasonWrongSubdomain:
		// Same body as no_session on purpose: never reveal whether the tenant
		// exists for this user.
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":  "Unauthorized",
			"reason": string(d.Reason),
		})
	case auth.ReasonInsufficientRole:
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":         "Insufficient permissions",
			"reason":        string(d.Reason),
			"actual_role":   string(d.ActualRole),
			"allowed_roles": auth.RoleStrings(d.AllowedRoles),
		})
	default:
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"error":  "Authentication check failed",
			"reason": string(auth.ReasonError),
		})
	}
}
