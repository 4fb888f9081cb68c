// Package session implements login, logout, token refresh, and OIDC SSO
// endpoints. Sessions are carried as JWTs in a cookie scoped to the root
// domain so they survive navigation between tenant subdomains.
package session

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tenantgate/tenantgate/internal/auth"
	"github.com/tenantgate/tenantgate/internal/auth/oidc"
	"github.com/tenantgate/tenantgate/internal/config"
	"github.com/tenantgate/tenantgate/internal/db/models"
	"github.com/tenantgate/tenantgate/internal/db/repositories"
	"github.com/tenantgate/tenantgate/internal/middleware"
)

// stateCookieName carries the OIDC anti-CSRF state between the login redirect
// and the provider callback.
const stateCookieName = "tg_oidc_state"

// Handlers holds all dependencies for session endpoints.
type Handlers struct {
	cfg      *config.Config
	users    *repositories.UserRepository
	members  *repositories.MemberRepository
	stamps   *auth.Stamps   // nil disables logout-everywhere
	provider *oidc.Provider // nil when SSO is not configured
}

// NewHandlers creates a new session Handlers instance.
func NewHandlers(cfg *config.Config, db *sql.DB, stamps *auth.Stamps, provider *oidc.Provider) *Handlers {
	return &Handlers{
		cfg:      cfg,
		users:    repositories.NewUserRepository(db),
		members:  repositories.NewMemberRepository(db),
		stamps:   stamps,
		provider: provider,
	}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login authenticates by email and password and starts a session. When the
// request arrives on a tenant subdomain the issued token embeds that tenant's
// claims; otherwise the token carries identity only and tenant claims are
// derived per request.
func (h *Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	ctx := c.Request.Context()

	user, err := h.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		slog.Error("login lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	// Identical response for unknown email, SSO-only account, and wrong
	// password; the timing of a bcrypt check on a dummy hash is not worth
	// distinguishing here, but the message must not enumerate accounts.
	if user == nil || user.PasswordHash == nil || !auth.CheckPassword(*user.PasswordHash, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		return
	}

	claims := h.claimsFor(c, user)
	token, err := auth.GenerateJWT(claims, h.cfg.Auth.TokenTTL)
	if err != nil {
		slog.Error("failed to generate session token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	h.setSessionCookie(c, token)

	slog.Info("user logged in", "user_id", user.ID, "subdomain", claims.Subdomain)

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user": gin.H{
			"id":              user.ID,
			"email":           user.Email,
			"name":            user.Name,
			"email_confirmed": user.EmailConfirmed,
		},
	})
}

// claimsFor builds session claims for the user. Tenant fields are embedded
// when the user has a membership in the route's tenant, or a single membership
// overall; ambiguity leaves them empty for per-request derivation.
func (h *Handlers) claimsFor(c *gin.Context, user *models.User) *auth.Claims {
	claims := &auth.Claims{
		UserID:         user.ID,
		Email:          user.Email,
		EmailConfirmed: user.EmailConfirmed,
	}

	ctx := c.Request.Context()
	if sub := middleware.RouteSubdomain(c); sub != "" {
		if m, err := h.members.GetMembershipBySubdomain(ctx, user.ID, sub); err == nil && m != nil {
			claims.Subdomain = m.Subdomain
			claims.OrgID = m.TenantID
			claims.UserRole = auth.Role(m.Role)
			claims.CompanyName = m.DisplayName
		}
		return claims
	}

	if memberships, err := h.members.ListMemberships(ctx, user.ID); err == nil && len(memberships) == 1 {
		m := memberships[0]
		claims.Subdomain = m.Subdomain
		claims.OrgID = m.TenantID
		claims.UserRole = auth.Role(m.Role)
		claims.CompanyName = m.DisplayName
	}
	return claims
}

// Refresh exchanges a valid session for a freshly minted one. Claims are
// re-derived from the database so role changes and membership removals take
// effect at the next refresh even on fast-path tokens.
func (h *Handlers) Refresh(c *gin.Context) {
	result := middleware.ClaimsResultFrom(c)
	if result.Err != nil || result.Claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	ctx := c.Request.Context()

	user, err := h.users.GetByID(ctx, result.Claims.UserID)
	if err != nil {
		slog.Error("refresh lookup failed", "user_id", result.Claims.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh failed"})
		return
	}
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	claims := h.claimsFor(c, user)
	if claims.Subdomain == "" && result.Claims.Subdomain != "" {
		// Off-tenant refresh of a tenant-scoped session keeps its tenant,
		// at the current role.
		if m, mErr := h.members.GetMembershipBySubdomain(ctx, user.ID, result.Claims.Subdomain); mErr == nil && m != nil {
			claims.Subdomain = m.Subdomain
			claims.OrgID = m.TenantID
			claims.UserRole = auth.Role(m.Role)
			claims.CompanyName = m.DisplayName
		}
	}

	token, err := auth.GenerateJWT(claims, h.cfg.Auth.TokenTTL)
	if err != nil {
		slog.Error("failed to generate session token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh failed"})
		return
	}

	h.setSessionCookie(c, token)
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// Logout ends the session by clearing the cookie. With ?everywhere=true the
// user's re-auth stamp is bumped so every outstanding token for the account is
// rejected, not just this browser's.
func (h *Handlers) Logout(c *gin.Context) {
	if c.Query("everywhere") == "true" && h.stamps != nil {
		if result := middleware.ClaimsResultFrom(c); result.Claims != nil {
			if err := h.stamps.MarkReauthRequired(c.Request.Context(), result.Claims.UserID); err != nil {
				slog.Warn("failed to revoke outstanding sessions", "user_id", result.Claims.UserID, "error", err)
			}
		}
	}

	c.SetCookie(middleware.SessionCookieName, "", -1, "/", "."+h.cfg.Tenancy.RootDomain, true, true)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Me returns the authenticated user's claims and tenant memberships.
func (h *Handlers) Me(c *gin.Context) {
	result := middleware.ClaimsResultFrom(c)
	if result.Err != nil || result.Claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	memberships, err := h.members.ListMemberships(c.Request.Context(), result.Claims.UserID)
	if err != nil {
		slog.Error("failed to list memberships", "user_id", result.Claims.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load profile"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user": gin.H{
			"id":              result.Claims.UserID,
			"email":           result.Claims.Email,
			"email_confirmed": result.Claims.EmailConfirmed,
		},
		"current_tenant": gin.H{
			"subdomain": result.Claims.Subdomain,
			"org_id":    result.Claims.OrgID,
			"role":      result.Claims.UserRole,
		},
		"memberships": memberships,
	})
}

// OIDCLogin starts the SSO flow by redirecting to the identity provider.
func (h *Handlers) OIDCLogin(c *gin.Context) {
	if h.provider == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "SSO is not configured"})
		return
	}

	state, _, err := auth.GenerateToken()
	if err != nil {
		slog.Error("failed to generate OIDC state", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start SSO login"})
		return
	}

	c.SetCookie(stateCookieName, state, 300, "/", "", true, true)
	c.Redirect(http.StatusFound, h.provider.AuthURL(state))
}

// OIDCCallback completes the SSO flow: it verifies state and the ID token,
// finds or provisions the user, and starts a session. Tenant claims are left
// for per-request derivation since the provider knows nothing about tenants.
func (h *Handlers) OIDCCallback(c *gin.Context) {
	if h.provider == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "SSO is not configured"})
		return
	}

	state := c.Query("state")
	cookieState, err := c.Cookie(stateCookieName)
	if err != nil || state == "" || state != cookieState {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid OIDC state"})
		return
	}
	c.SetCookie(stateCookieName, "", -1, "/", "", true, true)

	ctx := c.Request.Context()

	token, err := h.provider.ExchangeCode(ctx, c.Query("code"))
	if err != nil {
		slog.Error("OIDC code exchange failed", "error", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "SSO login failed"})
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "SSO login failed"})
		return
	}

	idToken, err := h.provider.VerifyIDToken(ctx, rawIDToken)
	if err != nil {
		slog.Error("OIDC token verification failed", "error", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "SSO login failed"})
		return
	}

	identity, err := h.provider.ExtractIdentity(idToken)
	if err != nil {
		slog.Error("OIDC identity extraction failed", "error", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "SSO login failed"})
		return
	}

	user, err := h.findOrCreateOIDCUser(c, identity)
	if err != nil {
		slog.Error("failed to provision SSO user", "sub", identity.Sub, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "SSO login failed"})
		return
	}

	claims := h.claimsFor(c, user)
	sessionToken, err := auth.GenerateJWT(claims, h.cfg.Auth.TokenTTL)
	if err != nil {
		slog.Error("failed to generate session token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "SSO login failed"})
		return
	}

	h.setSessionCookie(c, sessionToken)

	slog.Info("user logged in via SSO", "user_id", user.ID)

	c.Redirect(http.StatusSeeOther, "/dashboard")
}

func (h *Handlers) findOrCreateOIDCUser(c *gin.Context, identity *oidc.Identity) (*models.User, error) {
	ctx := c.Request.Context()

	user, err := h.users.GetByOIDCSub(ctx, identity.Sub)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}

	// Link by email when an account already exists (e.g. password signup
	// followed by SSO from the same address).
	user, err = h.users.GetByEmail(ctx, strings.ToLower(identity.Email))
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}

	user = &models.User{
		Email:          strings.ToLower(identity.Email),
		Name:           identity.Name,
		OIDCSub:        &identity.Sub,
		EmailConfirmed: identity.EmailVerified,
	}
	if err := h.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (h *Handlers) setSessionCookie(c *gin.Context, token string) {
	c.SetCookie(middleware.SessionCookieName, token,
		int(h.cfg.Auth.TokenTTL.Seconds()), "/", "."+h.cfg.Tenancy.RootDomain, true, true)
}
