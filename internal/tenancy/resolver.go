package tenancy

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tenantgate/tenantgate/internal/db/repositories"
	"github.com/tenantgate/tenantgate/internal/telemetry"
)

// Resolver decides whether a subdomain is backed by a live tenant: either an
// active tenant row or an unexpired, unconfirmed reservation.
//
// Results are cached in Redis (when configured) under a short TTL. Only
// definite answers are cached; backend errors are never cached, so a transient
// outage does not pin a tenant into nonexistence for the TTL.
type Resolver struct {
	tenants  *repositories.TenantRepository
	cache    *redis.Client // nil disables caching
	cacheTTL time.Duration
}

// NewResolver creates a Resolver. cache may be nil.
func NewResolver(tenants *repositories.TenantRepository, cache *redis.Client, cacheTTL time.Duration) *Resolver {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &Resolver{tenants: tenants, cache: cache, cacheTTL: cacheTTL}
}

const (
	cacheHitTenant      = "t"
	cacheHitReservation = "r"
	cacheMiss           = "0"
)

// SubdomainExists reports whether the subdomain maps to an active tenant or a
// live reservation. The input is normalized before lookup. Any query error is
// logged and reads as false: ambiguity must never grant access to a
// tenant-scoped surface.
//
// Repeated calls with unchanged store state return the same result; the method
// performs no writes beyond the cache.
func (r *Resolver) SubdomainExists(ctx context.Context, subdomain string) bool {
	sub := NormalizeSubdomain(subdomain)
	if !ValidSubdomain(sub) {
		telemetry.TenantResolutionsTotal.WithLabelValues("not_found").Inc()
		slog.Info("subdomain_not_found", "subdomain", sub, "cause", "invalid_format")
		return false
	}

	if hit, ok := r.cacheGet(ctx, sub); ok {
		return hit
	}

	tenant, err := r.tenants.GetBySubdomain(ctx, sub)
	if err != nil {
		telemetry.TenantResolutionsTotal.WithLabelValues("error").Inc()
		slog.Error("subdomain lookup failed", "subdomain", sub, "error", err)
		return false
	}
	if tenant != nil {
		telemetry.TenantResolutionsTotal.WithLabelValues("tenant").Inc()
		slog.Info("subdomain_tenant_found", "subdomain", sub, "tenant_id", tenant.ID)
		r.cacheSet(ctx, sub, cacheHitTenant, r.cacheTTL)
		return true
	}

	reservation, err := r.tenants.GetLiveReservation(ctx, sub)
	if err != nil {
		telemetry.TenantResolutionsTotal.WithLabelValues("error").Inc()
		slog.Error("reservation lookup failed", "subdomain", sub, "error", err)
		return false
	}
	if reservation != nil {
		telemetry.TenantResolutionsTotal.WithLabelValues("reservation").Inc()
		slog.Info("subdomain_reservation_found", "subdomain", sub, "expires_at", reservation.ExpiresAt)
		// Cap the cache entry at the reservation's remaining life so an expiring
		// reservation cannot outlive itself in the cache.
		ttl := r.cacheTTL
		if remaining := time.Until(reservation.ExpiresAt); remaining < ttl {
			ttl = remaining
		}
		r.cacheSet(ctx, sub, cacheHitReservation, ttl)
		return true
	}

	telemetry.TenantResolutionsTotal.WithLabelValues("not_found").Inc()
	slog.Info("subdomain_not_found", "subdomain", sub)
	r.cacheSet(ctx, sub, cacheMiss, r.cacheTTL)
	return false
}

// Invalidate drops the cached result for a subdomain. Called after signup
// confirmation so the new tenant is visible immediately.
func (r *Resolver) Invalidate(ctx context.Context, subdomain string) {
	if r.cache == nil {
		return
	}
	sub := NormalizeSubdomain(subdomain)
	if err := r.cache.Del(ctx, cacheKey(sub)).Err(); err != nil {
		slog.Warn("resolver cache invalidation failed", "subdomain", sub, "error", err)
	}
}

func cacheKey(sub string) string {
	return "resolver:" + sub
}

func (r *Resolver) cacheGet(ctx context.Context, sub string) (exists, ok bool) {
	if r.cache == nil {
		return false, false
	}
	val, err := r.cache.Get(ctx, cacheKey(sub)).Result()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("resolver cache read failed", "subdomain", sub, "error", err)
		}
		return false, false
	}
	return val != cacheMiss, true
}

func (r *Resolver) cacheSet(ctx context.Context, sub, val string, ttl time.Duration) {
	if r.cache == nil || ttl <= 0 {
		return
	}
	if err := r.cache.Set(ctx, cacheKey(sub), val, ttl).Err(); err != nil {
		slog.Warn("resolver cache write failed", "subdomain", sub, "error", err)
	}
}
