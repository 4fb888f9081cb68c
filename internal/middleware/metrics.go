// Package middleware provides the Gin HTTP middleware chain for TenantGate.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Security → RequestID → Metrics → RateLimit → Tenant → Session → Guard → Audit → Handler
//
// Security headers run first so they appear on all responses including errors.
// Rate limiting runs before session extraction to block brute force before any
// backend work. Tenant resolution pins the route subdomain before the guard
// evaluates against it. Audit runs last so only the final status is recorded.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tenantgate/tenantgate/internal/telemetry"
)

// MetricsMiddleware records request count and latency for every request.
//
// The path label uses c.FullPath(), the matched route template (e.g.
// /api/members/:userID) rather than the raw URL, so per-tenant paths do not
// explode label cardinality. Unmatched requests (404/405) use "<no-route>".
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}

		duration := time.Since(start).Seconds()
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}
