// Package api wires together all HTTP routes for the TenantGate server.
//
// Route grouping philosophy:
//   - Signup and session routes (/auth/) never require a tenant context; they
//     must work from the marketing site and from any subdomain. Denials are
//     delivered as JSON.
//   - The tenant application API (/api/v1/) runs behind the full chain:
//     hostname parsing, tenant resolution, claims extraction, and the
//     authorization guard. Role sets are declared per route group.
//   - Browser page routes (/dashboard) use the same guard in redirect mode so
//     an unauthenticated visit lands on the login page instead of a JSON 401.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/tenantgate/tenantgate/internal/api/members"
	"github.com/tenantgate/tenantgate/internal/api/session"
	"github.com/tenantgate/tenantgate/internal/api/signup"
	"github.com/tenantgate/tenantgate/internal/audit"
	"github.com/tenantgate/tenantgate/internal/auth"
	"github.com/tenantgate/tenantgate/internal/auth/oidc"
	"github.com/tenantgate/tenantgate/internal/config"
	"github.com/tenantgate/tenantgate/internal/db/repositories"
	"github.com/tenantgate/tenantgate/internal/jobs"
	"github.com/tenantgate/tenantgate/internal/middleware"
	"github.com/tenantgate/tenantgate/internal/notify"
	"github.com/tenantgate/tenantgate/internal/tenancy"
)

// managerialRoles may manage members and invitations.
var managerialRoles = []auth.Role{auth.RoleOwner, auth.RoleSuperadmin, auth.RoleAdmin}

// BackgroundServices holds references to background jobs and resources that
// must be stopped during graceful shutdown. The caller (cmd/server) calls
// Shutdown() after the HTTP server has drained.
type BackgroundServices struct {
	sweeper      *jobs.ReservationSweeper
	rateLimiters []*middleware.RateLimiter
	shipper      audit.Shipper
	redisClient  *redis.Client
}

// Shutdown stops all background goroutines and closes shared connections.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.sweeper != nil {
		bg.sweeper.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.shipper != nil {
		if err := bg.shipper.Close(); err != nil {
			slog.Warn("audit shipper close failed", "error", err)
		}
	}
	if bg.redisClient != nil {
		if err := bg.redisClient.Close(); err != nil {
			slog.Warn("redis close failed", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router and starts the background
// services it depends on.
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices, error) {
	router := gin.New()

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	tenantRepo := repositories.NewTenantRepository(db)
	userRepo := repositories.NewUserRepository(db)
	memberRepo := repositories.NewMemberRepository(db)
	auditRepo := repositories.NewAuditRepository(db)

	parser := tenancy.NewParser(cfg.Tenancy.RootDomain, cfg.Tenancy.MarketingDomain, cfg.Tenancy.PreviewSuffix)
	resolver := tenancy.NewResolver(tenantRepo, redisClient, cfg.Tenancy.ResolverCacheTTL)

	var stamps *auth.Stamps
	if redisClient != nil {
		stamps = auth.NewStamps(redisClient, cfg.Auth.TokenTTL)
	}
	extractor := auth.NewExtractor(userRepo, memberRepo, stamps, cfg.Auth.ClaimsLookupTimeout)

	var provider *oidc.Provider
	if cfg.Auth.OIDC.Enabled {
		p, err := oidc.NewProvider(context.Background(), &cfg.Auth.OIDC)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize OIDC provider: %w", err)
		}
		provider = p
	}

	var shipper audit.Shipper
	if ws, err := audit.NewWebhookShipper(&cfg.Audit.Shipper); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize audit shipper: %w", err)
	} else if ws != nil {
		shipper = ws
	}

	mailer := notify.NewLogMailer()

	sweeper := jobs.NewReservationSweeper(tenantRepo, cfg.Signup.SweepInterval)
	sweeper.Start(context.Background())

	signupHandlers := signup.NewHandlers(cfg, db, resolver, mailer)
	sessionHandlers := session.NewHandlers(cfg, db, stamps, provider)
	memberHandlers := members.NewHandlers(cfg, db, stamps, mailer)

	marketingURL := "https://" + cfg.Tenancy.MarketingDomain

	// Chain order matters: security headers and request IDs first, metrics
	// before anything that can abort. Tenant resolution and claims extraction
	// are group middleware rather than engine middleware so each group can
	// place its rate limiter ahead of them: credential and public endpoints
	// limit by client IP before any database work, and system endpoints skip
	// tenant resolution entirely.
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeadersMiddleware(middleware.DefaultSecurityHeadersConfig()))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))

	bg := &BackgroundServices{
		sweeper:     sweeper,
		shipper:     shipper,
		redisClient: redisClient,
	}

	generalLimit := middleware.DefaultRateLimitConfig()
	authLimit := middleware.AuthRateLimitConfig()
	var generalRate, authRate, pageRate gin.HandlerFunc
	if redisClient != nil {
		generalRate = middleware.RedisRateLimitMiddleware(redisClient, generalLimit, middleware.DeliverJSON)
		authRate = middleware.RedisRateLimitMiddleware(redisClient, authLimit, middleware.DeliverJSON)
		pageRate = middleware.RedisRateLimitMiddleware(redisClient, generalLimit, middleware.DeliverRedirect)
	} else {
		generalLimiter := middleware.NewRateLimiter(generalLimit)
		authLimiter := middleware.NewRateLimiter(authLimit)
		bg.rateLimiters = []*middleware.RateLimiter{generalLimiter, authLimiter}
		generalRate = middleware.RateLimitMiddleware(generalLimiter, middleware.DeliverJSON)
		authRate = middleware.RateLimitMiddleware(authLimiter, middleware.DeliverJSON)
		pageRate = middleware.RateLimitMiddleware(generalLimiter, middleware.DeliverRedirect)
	}

	tenantCtx := middleware.TenantMiddleware(parser, resolver, marketingURL)
	sessionCtx := middleware.SessionMiddleware(extractor)

	// System endpoints.
	router.GET("/health", healthCheckHandler(db))
	router.GET("/ready", readinessHandler(db, redisClient))
	router.GET("/version", versionHandler())

	// Signup and session routes. The tighter auth rate limit applies to
	// everything that touches credentials or sends email, and runs before
	// tenant resolution so unauthenticated floods never reach the database.
	authGroup := router.Group("/auth")
	authGroup.Use(authRate, tenantCtx, sessionCtx)
	{
		authGroup.POST("/login", sessionHandlers.Login)
		authGroup.POST("/logout", sessionHandlers.Logout)
		authGroup.POST("/refresh", sessionHandlers.Refresh)
		authGroup.GET("/me", sessionHandlers.Me)

		authGroup.GET("/oidc/login", sessionHandlers.OIDCLogin)
		authGroup.GET("/oidc/callback", sessionHandlers.OIDCCallback)

		authGroup.GET("/signup/availability", signupHandlers.CheckAvailability)
		authGroup.POST("/signup/reserve", signupHandlers.Reserve)
		authGroup.POST("/signup/confirm", signupHandlers.Confirm)
	}

	// Invitation acceptance needs a session but no tenant membership yet, so
	// it lives outside the guarded group.
	router.POST("/invitations/accept", generalRate, tenantCtx, sessionCtx, memberHandlers.Accept)

	// Public existence check backing the marketing site's availability UI.
	// Boolean only; never distinguishes a live reservation from an active
	// tenant.
	router.GET("/api/v1/tenants/:subdomain", generalRate, tenantLookupHandler(resolver))

	auditChain := middleware.AuditMiddlewareWithShipper(auditRepo, shipper, &cfg.Audit)

	// Tenant application API. Every route requires the session to belong to
	// the route's tenant; role sets tighten per group. The session runs ahead
	// of the limiter here so the limiter can key per user instead of per IP.
	apiV1 := router.Group("/api/v1")
	apiV1.Use(tenantCtx, sessionCtx, generalRate)
	{
		memberRead := apiV1.Group("")
		memberRead.Use(middleware.RequireTenantAuth(middleware.DeliverJSON), auditChain)
		{
			memberRead.GET("/members", memberHandlers.List)
			memberRead.GET("/me/capabilities", memberHandlers.Capabilities)
		}

		manage := apiV1.Group("")
		manage.Use(middleware.RequireTenantAuth(middleware.DeliverJSON, managerialRoles...), auditChain)
		{
			manage.PUT("/members/:user_id/role", memberHandlers.UpdateRole)
			manage.DELETE("/members/:user_id", memberHandlers.Remove)
			manage.POST("/invitations", memberHandlers.Invite)
			manage.GET("/invitations", memberHandlers.ListInvitations)
		}
	}

	// Browser page routes use redirect delivery so a missing or mismatched
	// session lands on the login page.
	pages := router.Group("")
	pages.Use(pageRate, tenantCtx, sessionCtx, middleware.RequireTenantAuth(middleware.DeliverRedirect))
	{
		pages.GET("/dashboard", dashboardHandler())
	}

	return router, bg, nil
}

func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler gates traffic on the database and, when configured, Redis.
// Redis is probed because rate limiting and re-auth stamps degrade without it;
// the probe failing flips readiness so the orchestrator stops routing here.
func readinessHandler(db *sql.DB, redisClient *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.Ping(); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if redisClient != nil {
			if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
				checks["redis"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "redis not ready",
				})
				return
			}
			checks["redis"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

func tenantLookupHandler(resolver *tenancy.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		sub := tenancy.NormalizeSubdomain(c.Param("subdomain"))
		if !tenancy.ValidSubdomain(sub) {
			c.JSON(http.StatusOK, gin.H{"subdomain": sub, "exists": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"subdomain": sub,
			"exists":    resolver.SubdomainExists(c.Request.Context(), sub),
		})
	}
}

// dashboardHandler is the landing page for an authenticated tenant session.
// The real dashboard is rendered by the frontend; this returns the session's
// tenant context for it.
func dashboardHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := middleware.AllowedClaims(c)
		c.JSON(http.StatusOK, gin.H{
			"subdomain":    claims.Subdomain,
			"org_id":       claims.OrgID,
			"role":         claims.UserRole,
			"company_name": claims.CompanyName,
		})
	}
}

// LoggerMiddleware logs one structured record per request after it completes.
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware allows cross-origin requests from the marketing site and any
// tenant subdomain of the root domain. Other origins get no CORS headers.
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	marketing := "https://" + cfg.Tenancy.MarketingDomain
	wwwMarketing := "https://www." + cfg.Tenancy.MarketingDomain
	rootSuffix := "." + cfg.Tenancy.RootDomain

	allowedOrigin := func(origin string) bool {
		if origin == marketing || origin == wwwMarketing {
			return true
		}
		if origin == "https://"+cfg.Tenancy.RootDomain {
			return true
		}
		// https://<sub>.<root domain>
		const scheme = "https://"
		if len(origin) > len(scheme)+len(rootSuffix) && origin[:len(scheme)] == scheme &&
			origin[len(origin)-len(rootSuffix):] == rootSuffix {
			return true
		}
		return false
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if origin != "" && allowedOrigin(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
