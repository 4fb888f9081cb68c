// session.go extracts the session claims for a request and stores the result
// without making an access decision. The guard middleware and handlers decide;
// this middleware only runs the extractor once per request.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tenantgate/tenantgate/internal/auth"
)

const (
	// ClaimsResultKey is the gin.Context key holding the auth.ClaimsResult for
	// the request. Always set by SessionMiddleware, even for anonymous requests.
	ClaimsResultKey = "claims_result"

	// SessionCookieName carries the session token for browser requests. API
	// clients use the Authorization header instead.
	SessionCookieName = "tg_session"
)

// SessionMiddleware extracts and validates the session token, storing the
// resulting ClaimsResult in the context. It never aborts: anonymous requests
// proceed with a no-session result so public routes keep working.
func SessionMiddleware(extractor *auth.Extractor) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := sessionToken(c)
		result := extractor.Extract(c.Request.Context(), token, RouteSubdomain(c))

		c.Set(ClaimsResultKey, result)
		if result.Err == nil && result.Claims != nil {
			// Convenience keys for audit logging and rate-limit keying.
			c.Set("user_id", result.Claims.UserID)
			if result.Claims.OrgID != "" {
				c.Set("org_id", result.Claims.OrgID)
			}
		}

		c.Next()
	}
}

// ClaimsResultFrom returns the extraction result stored by SessionMiddleware.
// A request that never passed through the middleware reads as no session.
func ClaimsResultFrom(c *gin.Context) auth.ClaimsResult {
	if v, exists := c.Get(ClaimsResultKey); exists {
		if result, ok := v.(auth.ClaimsResult); ok {
			return result
		}
	}
	return auth.NoSessionResult()
}

// sessionToken pulls the raw token from the Authorization header, falling back
// to the session cookie for browser navigation requests.
func sessionToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}

	if cookie, err := c.Cookie(SessionCookieName); err == nil {
		return cookie
	}

	return ""
}
