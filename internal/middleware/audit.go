// audit.go records authenticated actions to the audit trail, optionally
// shipping them to an external collector.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tenantgate/tenantgate/internal/audit"
	"github.com/tenantgate/tenantgate/internal/config"
	"github.com/tenantgate/tenantgate/internal/db/models"
	"github.com/tenantgate/tenantgate/internal/db/repositories"
)

// AuditMiddleware logs authenticated actions to the database only.
func AuditMiddleware(auditRepo *repositories.AuditRepository) gin.HandlerFunc {
	return AuditMiddlewareWithShipper(auditRepo, nil, nil)
}

// AuditMiddlewareWithShipper logs authenticated actions to the database and
// ships them to the configured external destination. Recording failures never
// affect the response; the request already finished by the time audit runs.
func AuditMiddlewareWithShipper(auditRepo *repositories.AuditRepository, shipper audit.Shipper, auditCfg *config.AuditConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Request.Method == "OPTIONS" {
			return
		}

		isReadOp := c.Request.Method == "GET"
		isFailed := c.Writer.Status() >= 400

		logReadOps := auditCfg != nil && auditCfg.LogReadOperations
		logFailed := auditCfg != nil && auditCfg.LogFailedRequests
		if isReadOp && !logReadOps {
			return
		}
		if isFailed && !logFailed {
			return
		}

		userID := c.GetString("user_id")
		if userID == "" {
			// Anonymous traffic is not audited; the access log covers it.
			return
		}

		entry := &models.AuditLog{
			Action: auditAction(c),
		}
		entry.UserID = &userID
		if orgID := c.GetString("org_id"); orgID != "" {
			entry.TenantID = &orgID
		}
		ip := c.ClientIP()
		entry.IPAddress = &ip
		if ua := c.Request.UserAgent(); ua != "" {
			entry.UserAgent = &ua
		}

		if err := auditRepo.Create(c.Request.Context(), entry); err != nil {
			// Already logged inside the repository error; nothing to do for the
			// client at this point.
			_ = err
		}

		if shipper != nil {
			shipper.Enqueue(&audit.Entry{
				Action:     entry.Action,
				UserID:     userID,
				TenantID:   c.GetString("org_id"),
				IPAddress:  ip,
				StatusCode: c.Writer.Status(),
			})
		}
	}
}

// auditAction names the action from the matched route, e.g.
// "member.role_updated" for PUT /api/members/:userID.
func auditAction(c *gin.Context) string {
	path := c.FullPath()
	if path == "" {
		path = c.Request.URL.Path
	}

	switch {
	case strings.Contains(path, "/members") && c.Request.Method == "PUT":
		return "member.role_updated"
	case strings.Contains(path, "/members") && c.Request.Method == "DELETE":
		return "member.removed"
	case strings.Contains(path, "/invitations/accept"):
		return "member.invitation_accepted"
	case strings.Contains(path, "/invitations") && c.Request.Method == "POST":
		return "member.invited"
	case strings.Contains(path, "/signup/reserve"):
		return "signup.subdomain_reserved"
	case strings.Contains(path, "/signup/confirm"):
		return "signup.confirmed"
	case strings.Contains(path, "/auth/login"):
		return "session.login"
	case strings.Contains(path, "/auth/logout"):
		return "session.logout"
	}

	return c.Request.Method + " " + path
}
