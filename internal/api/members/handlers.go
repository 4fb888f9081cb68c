// Package members implements tenant member management: listing, role changes,
// removal, invitations, and per-role capability resolution. Every mutation is
// checked against the role-change policy before it touches the database, and
// role changes bump the tenant's permission stamp so outstanding sessions
// re-authenticate.
package members

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/tenantgate/tenantgate/internal/auth"
	"github.com/tenantgate/tenantgate/internal/config"
	"github.com/tenantgate/tenantgate/internal/db/models"
	"github.com/tenantgate/tenantgate/internal/db/repositories"
	"github.com/tenantgate/tenantgate/internal/middleware"
	"github.com/tenantgate/tenantgate/internal/notify"
	"github.com/tenantgate/tenantgate/internal/telemetry"
)

// Handlers holds all dependencies for member management endpoints.
type Handlers struct {
	cfg          *config.Config
	tenants      *repositories.TenantRepository
	users        *repositories.UserRepository
	members      *repositories.MemberRepository
	invitations  *repositories.InvitationRepository
	capabilities *repositories.CapabilityRepository
	stamps       *auth.Stamps // nil disables forced re-auth on role change
	mailer       notify.Mailer
}

// NewHandlers creates a new members Handlers instance.
func NewHandlers(cfg *config.Config, db *sql.DB, stamps *auth.Stamps, mailer notify.Mailer) *Handlers {
	return &Handlers{
		cfg:          cfg,
		tenants:      repositories.NewTenantRepository(db),
		users:        repositories.NewUserRepository(db),
		members:      repositories.NewMemberRepository(db),
		invitations:  repositories.NewInvitationRepository(db),
		capabilities: repositories.NewCapabilityRepository(sqlx.NewDb(db, "postgres")),
		stamps:       stamps,
		mailer:       mailer,
	}
}

// List returns the tenant's members with user details.
func (h *Handlers) List(c *gin.Context) {
	claims := middleware.AllowedClaims(c)

	members, err := h.members.ListMembersWithUsers(c.Request.Context(), claims.OrgID)
	if err != nil {
		slog.Error("failed to list members", "tenant_id", claims.OrgID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list members"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"members": members})
}

type updateRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// UpdateRole changes a member's role. The policy check runs against the
// target's role as read here; the UPDATE re-asserts that role so a concurrent
// change surfaces as a conflict instead of being silently overwritten.
func (h *Handlers) UpdateRole(c *gin.Context) {
	claims := middleware.AllowedClaims(c)
	targetUserID := c.Param("user_id")

	var req updateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role is required"})
		return
	}

	requested, err := auth.ParseRole(req.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()

	target, err := h.members.GetMember(ctx, claims.OrgID, targetUserID)
	if err != nil {
		slog.Error("failed to load member", "tenant_id", claims.OrgID, "user_id", targetUserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update role"})
		return
	}
	if target == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "member not found"})
		return
	}

	self := targetUserID == claims.UserID
	if err := auth.CanUpdateRole(claims.UserRole, auth.Role(target.Role), requested, self); err != nil {
		telemetry.RoleChangeDenialsTotal.WithLabelValues("update_role").Inc()
		slog.Info("role update denied",
			"tenant_id", claims.OrgID, "actor_id", claims.UserID, "target_id", targetUserID,
			"actor_role", claims.UserRole, "reason", err.Error())
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}

	applied, err := h.members.UpdateRole(ctx, claims.OrgID, targetUserID, target.Role, string(requested))
	if err != nil {
		slog.Error("failed to update role", "tenant_id", claims.OrgID, "user_id", targetUserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update role"})
		return
	}
	if !applied {
		c.JSON(http.StatusConflict, gin.H{"error": "member role changed concurrently, reload and retry"})
		return
	}

	h.invalidateSessions(c, claims.OrgID, targetUserID)

	slog.Info("member role updated",
		"tenant_id", claims.OrgID, "actor_id", claims.UserID, "target_id", targetUserID,
		"old_role", target.Role, "new_role", requested)

	c.JSON(http.StatusOK, gin.H{"user_id": targetUserID, "role": requested})
}

// Remove deletes a member from the tenant.
func (h *Handlers) Remove(c *gin.Context) {
	claims := middleware.AllowedClaims(c)
	targetUserID := c.Param("user_id")

	ctx := c.Request.Context()

	target, err := h.members.GetMember(ctx, claims.OrgID, targetUserID)
	if err != nil {
		slog.Error("failed to load member", "tenant_id", claims.OrgID, "user_id", targetUserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove member"})
		return
	}
	if target == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "member not found"})
		return
	}

	self := targetUserID == claims.UserID
	if err := auth.CanRemoveMember(claims.UserRole, auth.Role(target.Role), self); err != nil {
		telemetry.RoleChangeDenialsTotal.WithLabelValues("remove_member").Inc()
		slog.Info("member removal denied",
			"tenant_id", claims.OrgID, "actor_id", claims.UserID, "target_id", targetUserID,
			"actor_role", claims.UserRole, "reason", err.Error())
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}

	removed, err := h.members.RemoveMember(ctx, claims.OrgID, targetUserID)
	if err != nil {
		slog.Error("failed to remove member", "tenant_id", claims.OrgID, "user_id", targetUserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove member"})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "member not found"})
		return
	}

	h.invalidateSessions(c, claims.OrgID, targetUserID)

	slog.Info("member removed",
		"tenant_id", claims.OrgID, "actor_id", claims.UserID, "target_id", targetUserID, "role", target.Role)

	c.JSON(http.StatusOK, gin.H{"user_id": targetUserID, "removed": true})
}

// invalidateSessions bumps the tenant permission stamp and the target's
// re-auth stamp after a membership mutation. Failures are logged, not
// surfaced: the mutation itself already committed.
func (h *Handlers) invalidateSessions(c *gin.Context, tenantID, targetUserID string) {
	ctx := c.Request.Context()
	if err := h.tenants.TouchPermissionsChanged(ctx, tenantID); err != nil {
		slog.Error("failed to bump permission stamp", "tenant_id", tenantID, "error", err)
	}
	if h.stamps != nil {
		if err := h.stamps.MarkReauthRequired(ctx, targetUserID); err != nil {
			slog.Warn("failed to mark re-auth required", "user_id", targetUserID, "error", err)
		}
	}
}

type inviteRequest struct {
	Email string `json:"email" binding:"required,email"`
	Role  string `json:"role" binding:"required"`
}

// Invite creates an invitation at the given role and emails the acceptance
// link. The raw token never touches the database.
func (h *Handlers) Invite(c *gin.Context) {
	claims := middleware.AllowedClaims(c)

	var req inviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and role are required"})
		return
	}

	requested, err := auth.ParseRole(req.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := auth.CanAssignRole(claims.UserRole, requested); err != nil {
		telemetry.RoleChangeDenialsTotal.WithLabelValues("invite").Inc()
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()

	rawToken, tokenHash, err := auth.GenerateToken()
	if err != nil {
		slog.Error("failed to generate invitation token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create invitation"})
		return
	}

	inv := &models.Invitation{
		TenantID:  claims.OrgID,
		Email:     strings.ToLower(strings.TrimSpace(req.Email)),
		Role:      string(requested),
		TokenHash: tokenHash,
		InvitedBy: claims.UserID,
	}
	if err := h.invitations.Create(ctx, inv, h.cfg.Signup.InvitationTTL); err != nil {
		slog.Error("failed to create invitation", "tenant_id", claims.OrgID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create invitation"})
		return
	}

	acceptURL := fmt.Sprintf("%s/invitations/accept?token=%s", h.cfg.Server.GetPublicURL(), rawToken)
	if err := h.mailer.SendInvitation(ctx, inv.Email, claims.CompanyName, inv.Role, acceptURL); err != nil {
		slog.Error("failed to send invitation email", "invitation_id", inv.ID, "error", err)
	}

	slog.Info("invitation created",
		"tenant_id", claims.OrgID, "invitation_id", inv.ID, "role", inv.Role, "invited_by", claims.UserID)

	c.JSON(http.StatusCreated, gin.H{
		"invitation_id": inv.ID,
		"email":         inv.Email,
		"role":          inv.Role,
		"expires_at":    inv.ExpiresAt,
	})
}

// ListInvitations returns the tenant's invitations, pending and spent.
func (h *Handlers) ListInvitations(c *gin.Context) {
	claims := middleware.AllowedClaims(c)

	invitations, err := h.invitations.ListByTenant(c.Request.Context(), claims.OrgID)
	if err != nil {
		slog.Error("failed to list invitations", "tenant_id", claims.OrgID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list invitations"})
		return
	}

	type invitationView struct {
		ID        string     `json:"id"`
		Email     string     `json:"email"`
		Role      string     `json:"role"`
		ExpiresAt time.Time  `json:"expires_at"`
		Accepted  bool       `json:"accepted"`
		CreatedAt time.Time  `json:"created_at"`
	}
	views := make([]invitationView, 0, len(invitations))
	for _, inv := range invitations {
		views = append(views, invitationView{
			ID:        inv.ID,
			Email:     inv.Email,
			Role:      inv.Role,
			ExpiresAt: inv.ExpiresAt,
			Accepted:  inv.AcceptedAt != nil,
			CreatedAt: inv.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"invitations": views})
}

type acceptRequest struct {
	Token string `json:"token" binding:"required"`
}

// Accept redeems an invitation for the authenticated user. The invitation is
// marked spent before the membership insert; a second accept of the same token
// conflicts instead of duplicating the membership.
func (h *Handlers) Accept(c *gin.Context) {
	result := middleware.ClaimsResultFrom(c)
	if result.Err != nil || result.Claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "sign in before accepting an invitation"})
		return
	}

	var req acceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}

	ctx := c.Request.Context()

	inv, err := h.invitations.GetByTokenHash(ctx, auth.HashToken(req.Token))
	if err != nil {
		slog.Error("failed to look up invitation", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to accept invitation"})
		return
	}
	if inv == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid invitation token"})
		return
	}
	if !inv.Redeemable(time.Now()) {
		c.JSON(http.StatusGone, gin.H{"error": "invitation has expired or was already accepted"})
		return
	}

	spent, err := h.invitations.MarkAccepted(ctx, inv.ID)
	if err != nil {
		slog.Error("failed to mark invitation accepted", "invitation_id", inv.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to accept invitation"})
		return
	}
	if !spent {
		c.JSON(http.StatusConflict, gin.H{"error": "invitation was already accepted"})
		return
	}

	if err := h.members.AddMember(ctx, inv.TenantID, result.Claims.UserID, inv.Role); err != nil {
		slog.Error("failed to add member", "tenant_id", inv.TenantID, "user_id", result.Claims.UserID, "error", err)
		c.JSON(http.StatusConflict, gin.H{"error": "you are already a member of this organization"})
		return
	}

	slog.Info("invitation accepted",
		"tenant_id", inv.TenantID, "invitation_id", inv.ID, "user_id", result.Claims.UserID, "role", inv.Role)

	c.JSON(http.StatusOK, gin.H{
		"tenant_id": inv.TenantID,
		"role":      inv.Role,
	})
}

// Capabilities returns the authenticated member's effective capability set for
// the route's tenant: role defaults plus tenant-level overrides.
func (h *Handlers) Capabilities(c *gin.Context) {
	claims := middleware.AllowedClaims(c)

	rows, err := h.capabilities.ListOverrides(c.Request.Context(), claims.OrgID)
	if err != nil {
		slog.Error("failed to list capability overrides", "tenant_id", claims.OrgID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve capabilities"})
		return
	}

	overrides := make([]auth.Override, 0, len(rows))
	for _, row := range rows {
		overrides = append(overrides, auth.Override{
			Role:       auth.Role(row.Role),
			Capability: auth.Capability(row.Capability),
			Allowed:    row.Allowed,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"role":         claims.UserRole,
		"capabilities": auth.ResolveCapabilities(claims.UserRole, overrides),
	})
}
