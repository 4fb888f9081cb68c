package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"github.com/tenantgate/tenantgate/internal/config"
	"github.com/tenantgate/tenantgate/internal/db/repositories"
	"github.com/tenantgate/tenantgate/internal/tenancy"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Setenv("TG_JWT_SECRET", "test-jwt-secret-that-is-32-chars-!")
	os.Exit(m.Run())
}

func testConfig() *config.Config {
	return &config.Config{
		Tenancy: config.TenancyConfig{
			RootDomain:      "tenantgate.app",
			MarketingDomain: "tenantgate.com",
		},
		Logging: config.LoggingConfig{Format: "json", Level: "info"},
	}
}

func doGet(r http.Handler, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// startRouter builds the full engine with NewRouter against a sqlmock database
// and waits for the sweeper's initial pass so tests start from a clean
// expectation set. Startup runs on a goroutine with a deadline; a blocking
// background service fails the test instead of hanging the run.
func startRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("DELETE FROM subdomain_reservations").
		WillReturnResult(sqlmock.NewResult(0, 0))

	type result struct {
		router *gin.Engine
		bg     *BackgroundServices
		err    error
	}
	done := make(chan result, 1)
	go func() {
		router, bg, err := NewRouter(testConfig(), db)
		done <- result{router, bg, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("NewRouter did not return; a background service is blocking startup")
	}
	if res.err != nil {
		t.Fatalf("NewRouter: %v", res.err)
	}
	t.Cleanup(res.bg.Shutdown)

	deadline := time.After(2 * time.Second)
	for mock.ExpectationsWereMet() != nil {
		select {
		case <-deadline:
			t.Fatal("initial reservation sweep did not run")
		case <-time.After(5 * time.Millisecond):
		}
	}

	return res.router, mock
}

func TestNewRouterReturnsPromptly(t *testing.T) {
	router, _ := startRouter(t)

	w := doGet(router, "/version", nil)
	if w.Code != http.StatusOK {
		t.Errorf("version after startup = %d, want 200", w.Code)
	}
}

func TestAuthRateLimitPrecedesTenantResolution(t *testing.T) {
	router, _ := startRouter(t)

	// An unknown tenant host resolves fail-closed to a marketing redirect, so
	// requests that got past the limiter come back 307. Once the auth burst is
	// spent the limiter must answer first, without any resolver work.
	var last int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.Host = "ghost.tenantgate.app"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		last = w.Code
	}

	if last != http.StatusTooManyRequests {
		t.Errorf("sixth login attempt = %d, want 429", last)
	}
}

func TestHealthSkipsTenantResolution(t *testing.T) {
	router, _ := startRouter(t)

	// On a tenant host, tenant middleware would fail closed into a marketing
	// redirect here (the mock has no tenant rows); system endpoints answer
	// directly.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Host = "acme.tenantgate.app"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("health on tenant host = %d, want 200", w.Code)
	}
}

func TestVersionHandler(t *testing.T) {
	r := gin.New()
	r.GET("/version", versionHandler())

	w := doGet(r, "/version", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["api_version"] != "v1" {
		t.Errorf("api_version = %v, want v1", body["api_version"])
	}
}

func TestHealthCheckHandler(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	r := gin.New()
	r.GET("/health", healthCheckHandler(db))

	w := doGet(r, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestTenantLookupHandler(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	resolver := tenancy.NewResolver(repositories.NewTenantRepository(db), nil, time.Minute)
	r := gin.New()
	r.GET("/api/v1/tenants/:subdomain", tenantLookupHandler(resolver))

	t.Run("existing tenant", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery("FROM tenants\\s+WHERE subdomain").
			WithArgs("acme").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "subdomain", "display_name", "emoji", "permissions_changed_at", "created_at", "updated_at",
			}).AddRow("org-1", "acme", "Acme Inc", "", now, now, now))

		w := doGet(r, "/api/v1/tenants/acme", nil)
		var body map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &body)
		if body["exists"] != true {
			t.Errorf("body = %v, want exists=true", body)
		}
	})

	t.Run("invalid subdomain skips the lookup", func(t *testing.T) {
		w := doGet(r, "/api/v1/tenants/a", nil)
		var body map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &body)
		if body["exists"] != false {
			t.Errorf("body = %v, want exists=false", body)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unexpected database access: %v", err)
		}
	})
}

func TestCORSMiddleware(t *testing.T) {
	newEngine := func() *gin.Engine {
		r := gin.New()
		r.Use(CORSMiddleware(testConfig()))
		r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
		return r
	}

	t.Run("marketing origin", func(t *testing.T) {
		w := doGet(newEngine(), "/ping", map[string]string{"Origin": "https://tenantgate.com"})
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://tenantgate.com" {
			t.Errorf("Allow-Origin = %q", got)
		}
	})

	t.Run("tenant subdomain origin", func(t *testing.T) {
		w := doGet(newEngine(), "/ping", map[string]string{"Origin": "https://acme.tenantgate.app"})
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://acme.tenantgate.app" {
			t.Errorf("Allow-Origin = %q", got)
		}
	})

	t.Run("foreign origin gets no CORS headers", func(t *testing.T) {
		w := doGet(newEngine(), "/ping", map[string]string{"Origin": "https://evil.example"})
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Allow-Origin = %q, want empty", got)
		}
	})

	t.Run("lookalike suffix is rejected", func(t *testing.T) {
		w := doGet(newEngine(), "/ping", map[string]string{"Origin": "https://eviltenantgate.app"})
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Allow-Origin = %q, want empty", got)
		}
	})

	t.Run("preflight is answered without hitting the handler", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
		req.Header.Set("Origin", "https://tenantgate.com")
		w := httptest.NewRecorder()
		newEngine().ServeHTTP(w, req)
		if w.Code != http.StatusNoContent {
			t.Errorf("status = %d, want 204", w.Code)
		}
	})
}
