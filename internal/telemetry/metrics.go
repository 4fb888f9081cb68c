// Package telemetry provides application-level observability for TenantGate.
//
// All metrics are registered against the default Prometheus registry and are
// served by the side-channel HTTP server started in cmd/server:
//
//	GET http://<host>:<TG_TELEMETRY_METRICS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router so it never
// passes through rate limiting or the tenant middleware.
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/orgs/:subdomain/members)
// rather than the raw URL to keep label cardinality bounded; tenant subdomains are
// user-supplied and must never become label values.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Authorization metrics.
//
// GuardDecisionsTotal counts guard evaluations by outcome. The reason label is
// "allowed" for successful evaluations and the denial reason (no_session,
// wrong_subdomain, insufficient_role, error) otherwise. wrong_subdomain is the
// one to alert on: a non-zero steady rate means sessions are being presented
// against foreign tenants.
var (
	GuardDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_decisions_total",
			Help: "Authorization guard evaluations, by outcome reason.",
		},
		[]string{"reason"},
	)

	RoleChangeDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "role_change_denials_total",
			Help: "Role update and member removal attempts rejected by the role-change policy, by operation.",
		},
		[]string{"operation"},
	)
)

// Tenant resolution metrics.
//
// TenantResolutionsTotal uses outcome labels tenant, reservation, not_found,
// and error. The error outcome is served as not_found to the caller (the
// resolver fails closed) but is counted separately so backend trouble is
// visible without weakening the deny.
var (
	TenantResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_resolutions_total",
			Help: "Subdomain resolution attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	ReservationsSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "subdomain_reservations_swept_total",
			Help: "Expired subdomain reservations removed by the background sweeper.",
		},
	)
)

// DBConnectionsOpen reports the current open connection count of the database pool.
var DBConnectionsOpen = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_connections_open",
		Help: "Currently open database connections (in use + idle).",
	},
)

// StartDBPoolCollector polls db.Stats() on the given interval and exports the
// open-connection gauge. It runs until stop is closed.
func StartDBPoolCollector(db *sql.DB, interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				DBConnectionsOpen.Set(float64(db.Stats().OpenConnections))
			case <-stop:
				return
			}
		}
	}()
	slog.Debug("database pool collector started", "interval", interval.String())
}
