// tenant.go resolves the request's tenant from the Host header and pins it in
// the gin context for everything downstream.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tenantgate/tenantgate/internal/tenancy"
)

const (
	// SubdomainKey is the gin.Context key holding the route subdomain, or "" on
	// non-tenant hosts (marketing root, bare localhost).
	SubdomainKey = "subdomain"
)

// RouteSubdomain returns the tenant subdomain pinned by TenantMiddleware, or ""
// when the request does not address a tenant.
func RouteSubdomain(c *gin.Context) string {
	return c.GetString(SubdomainKey)
}

// TenantMiddleware parses the Host header and stores the route subdomain.
// Requests addressing a subdomain that resolves to neither an active tenant
// nor a live reservation are redirected to the marketing site: unknown
// subdomains must never expose a tenant-scoped surface.
func TenantMiddleware(parser tenancy.Parser, resolver *tenancy.Resolver, marketingURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		sub := parser.Subdomain(c.Request.Host)
		if sub == "" {
			c.Set(SubdomainKey, "")
			c.Next()
			return
		}

		if !resolver.SubdomainExists(c.Request.Context(), sub) {
			c.Redirect(http.StatusTemporaryRedirect, marketingURL)
			c.Abort()
			return
		}

		c.Set(SubdomainKey, tenancy.NormalizeSubdomain(sub))
		c.Next()
	}
}
