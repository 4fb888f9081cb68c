// Package config loads and validates the TenantGate configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the TG_ prefix (e.g., TG_DATABASE_HOST
// overrides database.host in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments.
//
// TG_JWT_SECRET is read by the auth package directly rather than through this
// struct so that secret handling stays in one place (see auth.ValidateJWTSecret).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Tenancy   TenancyConfig   `mapstructure:"tenancy"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Signup    SignupConfig    `mapstructure:"signup"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Audit     AuditConfig     `mapstructure:"audit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	PublicURL    string        `mapstructure:"public_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetAddress returns the listen address for the HTTP server.
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GetPublicURL returns the public-facing URL used for OAuth callbacks and external
// redirects. When server.public_url is set it is returned as-is; otherwise it falls
// back to server.base_url. The distinction matters in reverse-proxied deployments
// where the internal listen address differs from the URL registered with the
// identity provider.
func (s *ServerConfig) GetPublicURL() string {
	if s.PublicURL != "" {
		return s.PublicURL
	}
	return s.BaseURL
}

// TenancyConfig holds the domains that drive hostname-based tenant resolution.
type TenancyConfig struct {
	// RootDomain is the wildcard application domain; tenant subdomains hang off it
	// (e.g. "tenantgate.app" serves acme.tenantgate.app).
	RootDomain string `mapstructure:"root_domain"`
	// MarketingDomain is the public marketing site domain. Hosts matching it
	// (with or without www.) never resolve to a tenant.
	MarketingDomain string `mapstructure:"marketing_domain"`
	// PreviewSuffix is the host suffix used by preview deployments
	// (e.g. ".preview.tenantgate.dev"); the label before the "---" marker in such
	// hosts is treated as the tenant subdomain.
	PreviewSuffix string `mapstructure:"preview_suffix"`
	// ResolverCacheTTL bounds how long a subdomain existence result may be served
	// from Redis before the database is consulted again.
	ResolverCacheTTL time.Duration `mapstructure:"resolver_cache_ttl"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// GetDSN returns the PostgreSQL connection string
func (d *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// RedisConfig holds the optional Redis connection used for rate limiting,
// resolver caching, and session re-auth stamps. When Addr is empty the server
// falls back to in-process equivalents.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether a Redis connection is configured.
func (r *RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// TokenTTL is the lifetime of issued session JWTs.
	TokenTTL time.Duration `mapstructure:"token_ttl"`
	// RefreshTTL is the lifetime of refresh tokens.
	RefreshTTL time.Duration `mapstructure:"refresh_ttl"`
	// ClaimsLookupTimeout bounds the profile lookup performed when a token does
	// not embed tenant claims. A hung lookup fails the guard with a transient
	// error instead of hanging the request.
	ClaimsLookupTimeout time.Duration `mapstructure:"claims_lookup_timeout"`
	OIDC                OIDCConfig    `mapstructure:"oidc"`
}

// OIDCConfig holds OpenID Connect SSO configuration
type OIDCConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	IssuerURL    string   `mapstructure:"issuer_url"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURL  string   `mapstructure:"redirect_url"`
	Scopes       []string `mapstructure:"scopes"`
}

// SignupConfig holds subdomain signup configuration
type SignupConfig struct {
	// ReservationTTL is how long an unconfirmed subdomain reservation is held.
	ReservationTTL time.Duration `mapstructure:"reservation_ttl"`
	// SweepInterval is how often expired reservations are purged.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// InvitationTTL is how long a membership invitation remains redeemable.
	InvitationTTL time.Duration `mapstructure:"invitation_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Port is the side-channel port serving GET /metrics, separate from the main
	// API listener so the scrape path stays off the public ingress.
	Port int `mapstructure:"port"`
}

// AuditConfig holds audit logging configuration
type AuditConfig struct {
	// LogReadOperations records GET requests in addition to writes.
	LogReadOperations bool `mapstructure:"log_read_operations"`
	// LogFailedRequests records requests that ended with a 4xx/5xx status.
	LogFailedRequests bool `mapstructure:"log_failed_requests"`
	// Shipper optionally forwards audit entries to an external collector.
	Shipper AuditShipperConfig `mapstructure:"shipper"`
}

// AuditShipperConfig configures external audit log shipping
type AuditShipperConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	URL       string        `mapstructure:"url"`
	AuthToken string        `mapstructure:"auth_token"`
	QueueSize int           `mapstructure:"queue_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// Load reads configuration from the given file path (optional) and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("TG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tenantgate")
		// Missing config file is fine; defaults + env vars are a complete configuration.
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Tenancy
	v.SetDefault("tenancy.root_domain", "tenantgate.app")
	v.SetDefault("tenancy.marketing_domain", "tenantgate.com")
	v.SetDefault("tenancy.preview_suffix", "")
	v.SetDefault("tenancy.resolver_cache_ttl", "30s")

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "tenantgate")
	v.SetDefault("database.user", "tenantgate")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Redis
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	// Auth
	v.SetDefault("auth.token_ttl", "1h")
	v.SetDefault("auth.refresh_ttl", "720h")
	v.SetDefault("auth.claims_lookup_timeout", "5s")
	v.SetDefault("auth.oidc.enabled", false)
	v.SetDefault("auth.oidc.scopes", []string{"openid", "profile", "email"})

	// Signup
	v.SetDefault("signup.reservation_ttl", "48h")
	v.SetDefault("signup.sweep_interval", "1h")
	v.SetDefault("signup.invitation_ttl", "168h")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.port", 9090)

	// Audit
	v.SetDefault("audit.log_read_operations", false)
	v.SetDefault("audit.log_failed_requests", false)
	v.SetDefault("audit.shipper.enabled", false)
	v.SetDefault("audit.shipper.queue_size", 1000)
	v.SetDefault("audit.shipper.timeout", "10s")
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Tenancy.RootDomain == "" {
		return fmt.Errorf("tenancy.root_domain is required")
	}
	if strings.Contains(c.Tenancy.RootDomain, "://") {
		return fmt.Errorf("tenancy.root_domain must be a bare domain, not a URL: %s", c.Tenancy.RootDomain)
	}
	if c.Tenancy.MarketingDomain == "" {
		return fmt.Errorf("tenancy.marketing_domain is required")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.Password == "" && os.Getenv("TG_DATABASE_PASSWORD") == "" {
		return fmt.Errorf("database password is required (set TG_DATABASE_PASSWORD)")
	}

	if c.Auth.OIDC.Enabled {
		if c.Auth.OIDC.IssuerURL == "" {
			return fmt.Errorf("auth.oidc.issuer_url is required when OIDC is enabled")
		}
		if c.Auth.OIDC.ClientID == "" || c.Auth.OIDC.ClientSecret == "" {
			return fmt.Errorf("auth.oidc client credentials are required when OIDC is enabled")
		}
	}

	if c.Audit.Shipper.Enabled && c.Audit.Shipper.URL == "" {
		return fmt.Errorf("audit.shipper.url is required when audit shipping is enabled")
	}

	return nil
}
