// Package signup implements the subdomain signup flow: availability checks,
// time-boxed reservations, and email-token confirmation that promotes a
// reservation into an active tenant with the signing-up user as owner.
package signup

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"

	"github.com/tenantgate/tenantgate/internal/auth"
	"github.com/tenantgate/tenantgate/internal/config"
	"github.com/tenantgate/tenantgate/internal/db/models"
	"github.com/tenantgate/tenantgate/internal/db/repositories"
	"github.com/tenantgate/tenantgate/internal/middleware"
	"github.com/tenantgate/tenantgate/internal/notify"
	"github.com/tenantgate/tenantgate/internal/tenancy"
)

// Handlers holds all dependencies for signup endpoints.
type Handlers struct {
	cfg      *config.Config
	tenants  *repositories.TenantRepository
	users    *repositories.UserRepository
	resolver *tenancy.Resolver
	mailer   notify.Mailer
}

// NewHandlers creates a new signup Handlers instance.
func NewHandlers(cfg *config.Config, db *sql.DB, resolver *tenancy.Resolver, mailer notify.Mailer) *Handlers {
	return &Handlers{
		cfg:      cfg,
		tenants:  repositories.NewTenantRepository(db),
		users:    repositories.NewUserRepository(db),
		resolver: resolver,
		mailer:   mailer,
	}
}

// CheckAvailability reports whether a subdomain can be reserved. Invalid
// candidates are reported as unavailable with a distinct reason so the
// frontend can surface format errors inline.
func (h *Handlers) CheckAvailability(c *gin.Context) {
	sub := tenancy.NormalizeSubdomain(c.Query("subdomain"))
	if sub == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subdomain query parameter is required"})
		return
	}

	if !tenancy.ValidSubdomain(sub) {
		c.JSON(http.StatusOK, gin.H{"subdomain": sub, "available": false, "reason": "invalid_format"})
		return
	}

	if h.resolver.SubdomainExists(c.Request.Context(), sub) {
		c.JSON(http.StatusOK, gin.H{"subdomain": sub, "available": false, "reason": "taken"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"subdomain": sub, "available": true})
}

type reserveRequest struct {
	Subdomain   string `json:"subdomain" binding:"required"`
	Email       string `json:"email" binding:"required,email"`
	CompanyName string `json:"company_name" binding:"required"`
}

// Reserve places a time-boxed claim on a subdomain and emails a confirmation
// token. The raw token never touches the database; only its hash is stored.
func (h *Handlers) Reserve(c *gin.Context) {
	var req reserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subdomain, email, and company_name are required"})
		return
	}

	ctx := c.Request.Context()
	sub := tenancy.NormalizeSubdomain(req.Subdomain)

	if !tenancy.ValidSubdomain(sub) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subdomain must be 3-63 lowercase letters, digits, or hyphens"})
		return
	}

	// Pre-check keeps the common collision off the unique index, but the
	// index remains the authority under concurrent reservations.
	if h.resolver.SubdomainExists(ctx, sub) {
		c.JSON(http.StatusConflict, gin.H{"error": "subdomain is not available"})
		return
	}

	rawToken, tokenHash, err := auth.GenerateToken()
	if err != nil {
		slog.Error("failed to generate confirmation token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reserve subdomain"})
		return
	}

	res := &models.SubdomainReservation{
		Subdomain:        sub,
		Email:            strings.ToLower(strings.TrimSpace(req.Email)),
		CompanyName:      strings.TrimSpace(req.CompanyName),
		ConfirmTokenHash: tokenHash,
	}
	if err := h.tenants.CreateReservation(ctx, res, h.cfg.Signup.ReservationTTL); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			c.JSON(http.StatusConflict, gin.H{"error": "subdomain is not available"})
			return
		}
		slog.Error("failed to create reservation", "subdomain", sub, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reserve subdomain"})
		return
	}

	confirmURL := fmt.Sprintf("%s/auth/signup/confirm?token=%s", h.cfg.Server.GetPublicURL(), rawToken)
	if err := h.mailer.SendSignupConfirmation(ctx, res.Email, sub, confirmURL); err != nil {
		slog.Error("failed to send confirmation email", "subdomain", sub, "error", err)
	}

	slog.Info("subdomain reserved", "subdomain", sub, "reservation_id", res.ID, "expires_at", res.ExpiresAt)

	c.JSON(http.StatusCreated, gin.H{
		"subdomain":  sub,
		"expires_at": res.ExpiresAt,
		"message":    "Check your email for a confirmation link",
	})
}

type confirmRequest struct {
	Token       string `json:"token" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"display_name"`
	Emoji       string `json:"emoji"`
}

// Confirm redeems a confirmation token: it activates the tenant, creates (or
// confirms) the owner account, and starts a session scoped to the new tenant.
func (h *Handlers) Confirm(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token, name, and password are required"})
		return
	}

	ctx := c.Request.Context()

	res, err := h.tenants.GetReservationByTokenHash(ctx, auth.HashToken(req.Token))
	if err != nil {
		slog.Error("failed to look up reservation", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to confirm signup"})
		return
	}
	if res == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid confirmation token"})
		return
	}
	if res.ConfirmedAt != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "signup already confirmed"})
		return
	}
	if !res.Live(time.Now()) {
		c.JSON(http.StatusGone, gin.H{"error": "confirmation token has expired"})
		return
	}

	user, err := h.users.GetByEmail(ctx, res.Email)
	if err != nil {
		slog.Error("failed to look up user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to confirm signup"})
		return
	}
	if user == nil {
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		user = &models.User{
			Email:          res.Email,
			Name:           strings.TrimSpace(req.Name),
			PasswordHash:   &hash,
			EmailConfirmed: true, // the emailed token proves control of the address
		}
		if err := h.users.Create(ctx, user); err != nil {
			slog.Error("failed to create user", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to confirm signup"})
			return
		}
	} else if !user.EmailConfirmed {
		if err := h.users.SetEmailConfirmed(ctx, user.ID); err != nil {
			slog.Error("failed to confirm email", "user_id", user.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to confirm signup"})
			return
		}
		user.EmailConfirmed = true
	}

	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = res.CompanyName
	}

	tenant, err := h.tenants.ConfirmReservation(ctx, res.ID, displayName, req.Emoji, user.ID)
	if err != nil {
		slog.Error("failed to confirm reservation", "reservation_id", res.ID, "error", err)
		c.JSON(http.StatusConflict, gin.H{"error": "reservation is expired or already confirmed"})
		return
	}

	// The subdomain may be cached as nonexistent from pre-signup probes.
	h.resolver.Invalidate(ctx, tenant.Subdomain)

	token, err := auth.GenerateJWT(&auth.Claims{
		UserID:         user.ID,
		Email:          user.Email,
		Subdomain:      tenant.Subdomain,
		OrgID:          tenant.ID,
		UserRole:       auth.RoleOwner,
		EmailConfirmed: true,
		CompanyName:    tenant.DisplayName,
	}, h.cfg.Auth.TokenTTL)
	if err != nil {
		slog.Error("failed to generate session token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "tenant created but session could not be started"})
		return
	}

	setSessionCookie(c, h.cfg, token)

	slog.Info("tenant activated", "subdomain", tenant.Subdomain, "tenant_id", tenant.ID, "owner_id", user.ID)

	c.JSON(http.StatusCreated, gin.H{
		"token": token,
		"tenant": gin.H{
			"id":           tenant.ID,
			"subdomain":    tenant.Subdomain,
			"display_name": tenant.DisplayName,
			"emoji":        tenant.Emoji,
		},
	})
}

func setSessionCookie(c *gin.Context, cfg *config.Config, token string) {
	// The cookie spans all tenant subdomains so a session survives moving
	// between the apex and <sub>.<root domain>.
	c.SetCookie(middleware.SessionCookieName, token,
		int(cfg.Auth.TokenTTL.Seconds()), "/", "."+cfg.Tenancy.RootDomain, true, true)
}
