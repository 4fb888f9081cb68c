package members

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"github.com/tenantgate/tenantgate/internal/auth"
	"github.com/tenantgate/tenantgate/internal/config"
	"github.com/tenantgate/tenantgate/internal/middleware"
	"github.com/tenantgate/tenantgate/internal/notify"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Setenv("TG_JWT_SECRET", "test-jwt-secret-that-is-32-chars-!")
	os.Exit(m.Run())
}

var memberCols = []string{"tenant_id", "user_id", "role", "created_at", "updated_at"}

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{BaseURL: "https://tenantgate.test"},
		Tenancy: config.TenancyConfig{RootDomain: "tenantgate.test"},
		Signup:  config.SignupConfig{InvitationTTL: 7 * 24 * time.Hour},
	}
}

func newHandlers(t *testing.T) (*Handlers, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewHandlers(testConfig(), db, nil, notify.NewLogMailer()), mock
}

func actorClaims(role auth.Role) *auth.Claims {
	return &auth.Claims{
		UserID:         "actor-1",
		Email:          "actor@acme.test",
		Subdomain:      "acme",
		OrgID:          "org-1",
		UserRole:       role,
		EmailConfirmed: true,
		CompanyName:    "Acme Inc",
	}
}

// newRouter registers member routes behind a stub standing in for the session
// and guard middleware: it seeds the route subdomain, the claims result, and
// the allowed claims.
func newRouter(h *Handlers, claims *auth.Claims) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.SubdomainKey, "acme")
		if claims != nil {
			c.Set(middleware.ClaimsResultKey, auth.ClaimsResult{Claims: claims})
			c.Set(middleware.ClaimsKey, claims)
		} else {
			c.Set(middleware.ClaimsResultKey, auth.NoSessionResult())
		}
		c.Next()
	})
	r.GET("/members", h.List)
	r.PUT("/members/:user_id/role", h.UpdateRole)
	r.DELETE("/members/:user_id", h.Remove)
	r.POST("/invitations", h.Invite)
	r.GET("/invitations", h.ListInvitations)
	r.POST("/invitations/accept", h.Accept)
	r.GET("/me/capabilities", h.Capabilities)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return body.Error
}

func expectGetMember(mock sqlmock.Sqlmock, userID, role string) {
	mock.ExpectQuery("FROM tenant_members\\s+WHERE tenant_id").
		WithArgs("org-1", userID).
		WillReturnRows(sqlmock.NewRows(memberCols).
			AddRow("org-1", userID, role, time.Now(), time.Now()))
}

func expectPermissionStamp(mock sqlmock.Sqlmock) {
	mock.ExpectExec("UPDATE tenants\\s+SET permissions_changed_at").
		WithArgs("org-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestList(t *testing.T) {
	h, mock := newHandlers(t)
	mock.ExpectQuery("FROM tenant_members m\\s+JOIN users u").
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "user_id", "role", "name", "email", "created_at"}).
			AddRow("org-1", "user-1", "owner", "Alice", "alice@acme.test", time.Now()).
			AddRow("org-1", "user-2", "member", "Bob", "bob@acme.test", time.Now()))

	w := doJSON(t, newRouter(h, actorClaims(auth.RoleOwner)), http.MethodGet, "/members", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		Members []map[string]interface{} `json:"members"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Members) != 2 {
		t.Errorf("members = %d, want 2", len(body.Members))
	}
}

func TestUpdateRole(t *testing.T) {
	t.Run("owner promotes a member", func(t *testing.T) {
		h, mock := newHandlers(t)
		expectGetMember(mock, "user-2", "member")
		mock.ExpectExec("UPDATE tenant_members").
			WithArgs("admin", "org-1", "user-2", "member").
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectPermissionStamp(mock)

		w := doJSON(t, newRouter(h, actorClaims(auth.RoleOwner)), http.MethodPut, "/members/user-2/role", gin.H{"role": "admin"})
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", w.Code, w.Body.String())
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})

	t.Run("self role change is denied before any write", func(t *testing.T) {
		h, mock := newHandlers(t)
		expectGetMember(mock, "actor-1", "owner")

		w := doJSON(t, newRouter(h, actorClaims(auth.RoleOwner)), http.MethodPut, "/members/actor-1/role", gin.H{"role": "member"})
		if w.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", w.Code)
		}
		if got, want := errorMessage(t, w), "You cannot change your own role"; got != want {
			t.Errorf("error = %q, want %q", got, want)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("a write happened after the policy denial: %v", err)
		}
	})

	t.Run("admin cannot elevate to superadmin", func(t *testing.T) {
		h, mock := newHandlers(t)
		expectGetMember(mock, "user-2", "member")

		w := doJSON(t, newRouter(h, actorClaims(auth.RoleAdmin)), http.MethodPut, "/members/user-2/role", gin.H{"role": "superadmin"})
		if w.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", w.Code)
		}
		if got, want := errorMessage(t, w), "Only owners can assign superadmin or owner roles"; got != want {
			t.Errorf("error = %q, want %q", got, want)
		}
	})

	t.Run("superadmin cannot touch another superadmin", func(t *testing.T) {
		h, mock := newHandlers(t)
		expectGetMember(mock, "user-2", "superadmin")

		w := doJSON(t, newRouter(h, actorClaims(auth.RoleSuperadmin)), http.MethodPut, "/members/user-2/role", gin.H{"role": "member"})
		if w.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", w.Code)
		}
		if got, want := errorMessage(t, w), "Superadmins cannot modify owners or other superadmins"; got != want {
			t.Errorf("error = %q, want %q", got, want)
		}
	})

	t.Run("unknown role", func(t *testing.T) {
		h, _ := newHandlers(t)
		w := doJSON(t, newRouter(h, actorClaims(auth.RoleOwner)), http.MethodPut, "/members/user-2/role", gin.H{"role": "godmode"})
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("target not found", func(t *testing.T) {
		h, mock := newHandlers(t)
		mock.ExpectQuery("FROM tenant_members\\s+WHERE tenant_id").
			WillReturnRows(sqlmock.NewRows(memberCols))

		w := doJSON(t, newRouter(h, actorClaims(auth.RoleOwner)), http.MethodPut, "/members/ghost/role", gin.H{"role": "member"})
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})

	t.Run("concurrent change surfaces as a conflict", func(t *testing.T) {
		h, mock := newHandlers(t)
		expectGetMember(mock, "user-2", "member")
		mock.ExpectExec("UPDATE tenant_members").
			WillReturnResult(sqlmock.NewResult(0, 0))

		w := doJSON(t, newRouter(h, actorClaims(auth.RoleOwner)), http.MethodPut, "/members/user-2/role", gin.H{"role": "admin"})
		if w.Code != http.StatusConflict {
			t.Errorf("status = %d, want 409", w.Code)
		}
	})
}

func TestRemove(t *testing.T) {
	t.Run("owner removes an admin", func(t *testing.T) {
		h, mock := newHandlers(t)
		expectGetMember(mock, "user-2", "admin")
		mock.ExpectExec("DELETE FROM tenant_members").
			WithArgs("org-1", "user-2").
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectPermissionStamp(mock)

		w := doJSON(t, newRouter(h, actorClaims(auth.RoleOwner)), http.MethodDelete, "/members/user-2", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", w.Code, w.Body.String())
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})

	t.Run("self removal is denied", func(t *testing.T) {
		h, mock := newHandlers(t)
		expectGetMember(mock, "actor-1", "owner")

		w := doJSON(t, newRouter(h, actorClaims(auth.RoleOwner)), http.MethodDelete, "/members/actor-1", nil)
		if w.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", w.Code)
		}
		if got, want := errorMessage(t, w), "You cannot remove yourself from the organization"; got != want {
			t.Errorf("error = %q, want %q", got, want)
		}
	})

	t.Run("superadmin cannot remove an admin", func(t *testing.T) {
		h, mock := newHandlers(t)
		expectGetMember(mock, "user-2", "admin")

		w := doJSON(t, newRouter(h, actorClaims(auth.RoleSuperadmin)), http.MethodDelete, "/members/user-2", nil)
		if w.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", w.Code)
		}
		if got, want := errorMessage(t, w), "Superadmins can only remove members and view-only users"; got != want {
			t.Errorf("error = %q, want %q", got, want)
		}
	})
}

func TestInvite(t *testing.T) {
	t.Run("creates an invitation", func(t *testing.T) {
		h, mock := newHandlers(t)
		mock.ExpectQuery("INSERT INTO invitations").
			WithArgs("org-1", "bob@acme.test", "member", sqlmock.AnyArg(), "actor-1", "604800 seconds").
			WillReturnRows(sqlmock.NewRows([]string{"id", "expires_at", "created_at"}).
				AddRow("inv-1", time.Now().Add(7*24*time.Hour), time.Now()))

		w := doJSON(t, newRouter(h, actorClaims(auth.RoleAdmin)), http.MethodPost, "/invitations", gin.H{
			"email": "Bob@acme.test", "role": "member",
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("status = %d: %s", w.Code, w.Body.String())
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})

	t.Run("admin cannot invite an admin", func(t *testing.T) {
		h, _ := newHandlers(t)
		w := doJSON(t, newRouter(h, actorClaims(auth.RoleAdmin)), http.MethodPost, "/invitations", gin.H{
			"email": "bob@acme.test", "role": "admin",
		})
		if w.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", w.Code)
		}
		if got, want := errorMessage(t, w), "Admins can only assign member or view-only roles"; got != want {
			t.Errorf("error = %q, want %q", got, want)
		}
	})

	t.Run("non-owner cannot invite a superadmin", func(t *testing.T) {
		h, _ := newHandlers(t)
		w := doJSON(t, newRouter(h, actorClaims(auth.RoleSuperadmin)), http.MethodPost, "/invitations", gin.H{
			"email": "bob@acme.test", "role": "superadmin",
		})
		if w.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", w.Code)
		}
		if got, want := errorMessage(t, w), "Only owners can assign superadmin or owner roles"; got != want {
			t.Errorf("error = %q, want %q", got, want)
		}
	})
}

func TestAccept(t *testing.T) {
	invitationRow := func(expiresAt time.Time, acceptedAt interface{}) *sqlmock.Rows {
		return sqlmock.NewRows([]string{
			"id", "tenant_id", "email", "role", "token_hash", "invited_by", "expires_at", "accepted_at", "created_at",
		}).AddRow("inv-1", "org-1", "bob@acme.test", "member", "hash", "actor-1", expiresAt, acceptedAt, time.Now())
	}

	t.Run("redeems a pending invitation", func(t *testing.T) {
		h, mock := newHandlers(t)
		mock.ExpectQuery("FROM invitations\\s+WHERE token_hash").
			WillReturnRows(invitationRow(time.Now().Add(time.Hour), nil))
		mock.ExpectExec("UPDATE invitations\\s+SET accepted_at").
			WithArgs("inv-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO tenant_members").
			WithArgs("org-1", "bob-1", "member").
			WillReturnResult(sqlmock.NewResult(0, 1))

		claims := &auth.Claims{UserID: "bob-1", Email: "bob@acme.test", EmailConfirmed: true}
		w := doJSON(t, newRouter(h, claims), http.MethodPost, "/invitations/accept", gin.H{"token": "deadbeef"})
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", w.Code, w.Body.String())
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})

	t.Run("requires a session", func(t *testing.T) {
		h, _ := newHandlers(t)
		w := doJSON(t, newRouter(h, nil), http.MethodPost, "/invitations/accept", gin.H{"token": "deadbeef"})
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	t.Run("expired invitation", func(t *testing.T) {
		h, mock := newHandlers(t)
		mock.ExpectQuery("FROM invitations\\s+WHERE token_hash").
			WillReturnRows(invitationRow(time.Now().Add(-time.Hour), nil))

		claims := &auth.Claims{UserID: "bob-1", Email: "bob@acme.test", EmailConfirmed: true}
		w := doJSON(t, newRouter(h, claims), http.MethodPost, "/invitations/accept", gin.H{"token": "deadbeef"})
		if w.Code != http.StatusGone {
			t.Errorf("status = %d, want 410", w.Code)
		}
	})

	t.Run("double accept conflicts", func(t *testing.T) {
		h, mock := newHandlers(t)
		mock.ExpectQuery("FROM invitations\\s+WHERE token_hash").
			WillReturnRows(invitationRow(time.Now().Add(time.Hour), nil))
		mock.ExpectExec("UPDATE invitations\\s+SET accepted_at").
			WillReturnResult(sqlmock.NewResult(0, 0))

		claims := &auth.Claims{UserID: "bob-1", Email: "bob@acme.test", EmailConfirmed: true}
		w := doJSON(t, newRouter(h, claims), http.MethodPost, "/invitations/accept", gin.H{"token": "deadbeef"})
		if w.Code != http.StatusConflict {
			t.Errorf("status = %d, want 409", w.Code)
		}
	})
}

func TestCapabilities(t *testing.T) {
	t.Run("defaults plus overrides", func(t *testing.T) {
		h, mock := newHandlers(t)
		mock.ExpectQuery("FROM capability_overrides").
			WithArgs("org-1").
			WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "role", "capability", "allowed"}).
				AddRow("org-1", "member", "invite_members", true))

		w := doJSON(t, newRouter(h, actorClaims(auth.RoleMember)), http.MethodGet, "/me/capabilities", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", w.Code, w.Body.String())
		}

		var body struct {
			Role         string   `json:"role"`
			Capabilities []string `json:"capabilities"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if body.Role != "member" {
			t.Errorf("role = %q, want member", body.Role)
		}
		var granted bool
		for _, cap := range body.Capabilities {
			if cap == "invite_members" {
				granted = true
			}
		}
		if !granted {
			t.Errorf("capabilities = %v, want invite_members granted by override", body.Capabilities)
		}
	})
}
