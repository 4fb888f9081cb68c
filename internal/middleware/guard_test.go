package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tenantgate/tenantgate/internal/auth"
)

// guardRouter wires a route that fakes the upstream tenant and session
// middleware by seeding the context directly.
func guardRouter(result auth.ClaimsResult, routeSub string, mode DeliveryMode, roles ...auth.Role) *gin.Engine {
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(SubdomainKey, routeSub)
		c.Set(ClaimsResultKey, result)
		c.Next()
	})
	router.GET("/protected", RequireTenantAuth(mode, roles...), func(c *gin.Context) {
		claims := AllowedClaims(c)
		c.JSON(http.StatusOK, gin.H{"org_id": claims.OrgID})
	})
	return router
}

func memberSession(sub string, role auth.Role) auth.ClaimsResult {
	return auth.ClaimsResult{Claims: &auth.Claims{
		UserID:         "user-1",
		Email:          "alice@acme.test",
		Subdomain:      sub,
		OrgID:          "org-1",
		UserRole:       role,
		EmailConfirmed: true,
	}}
}

func serve(router *gin.Engine) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/protected", nil))
	return w
}

func TestRequireTenantAuth_Allows(t *testing.T) {
	w := serve(guardRouter(memberSession("acme", auth.RoleMember), "acme", DeliverJSON))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if body["org_id"] != "org-1" {
		t.Errorf("handler did not see validated claims: %v", body)
	}
}

func TestRequireTenantAuth_RedirectMode(t *testing.T) {
	tests := []struct {
		name     string
		result   auth.ClaimsResult
		routeSub string
		roles    []auth.Role
		location string
	}{
		{"no session", auth.NoSessionResult(), "acme", nil, LoginNoSessionURL},
		{"wrong subdomain", memberSession("globex", auth.RoleOwner), "acme", nil, LoginUnauthorizedURL},
		{"insufficient role", memberSession("acme", auth.RoleMember), "acme", []auth.Role{auth.RoleOwner}, DashboardInsufficientURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(guardRouter(tt.result, tt.routeSub, DeliverRedirect, tt.roles...))
			if w.Code != http.StatusSeeOther {
				t.Fatalf("status = %d, want 303", w.Code)
			}
			if got := w.Header().Get("Location"); got != tt.location {
				t.Errorf("Location = %q, want %q", got, tt.location)
			}
		})
	}
}

func TestRequireTenantAuth_JSONMode(t *testing.T) {
	t.Run("no session", func(t *testing.T) {
		w := serve(guardRouter(auth.NoSessionResult(), "acme", DeliverJSON))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	t.Run("wrong subdomain reads like no session", func(t *testing.T) {
		w := serve(guardRouter(memberSession("globex", auth.RoleOwner), "acme", DeliverJSON))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
		if body := w.Body.String(); len(body) > 0 && json.Valid([]byte(body)) {
			var m map[string]any
			json.Unmarshal([]byte(body), &m)
			if _, leaked := m["subdomain"]; leaked {
				t.Error("denial body leaks tenant information")
			}
		}
	})

	t.Run("insufficient role names the sets", func(t *testing.T) {
		w := serve(guardRouter(memberSession("acme", auth.RoleMember), "acme", DeliverJSON, auth.RoleOwner, auth.RoleAdmin))
		if w.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", w.Code)
		}
		var m map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
			t.Fatalf("bad body: %v", err)
		}
		if m["actual_role"] != "member" {
			t.Errorf("actual_role = %v", m["actual_role"])
		}
	})

	t.Run("unconfirmed email treated as no session", func(t *testing.T) {
		result := memberSession("acme", auth.RoleOwner)
		result.Claims.EmailConfirmed = false
		w := serve(guardRouter(result, "acme", DeliverJSON))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})
}
