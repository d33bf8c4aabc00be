package account

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/records/internal/platform/apperr"
	"github.com/ehr/records/internal/platform/auth"
	"github.com/ehr/records/internal/platform/db"
	"github.com/ehr/records/internal/platform/router"
)

// newServer wires the account routes behind the real bearer-token
// middleware. Every request is attributed to tenant clinic_a.
func newServer(t *testing.T) (*echo.Echo, *Service) {
	t.Helper()
	svc, _, store := newTestService()
	e := echo.New()
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(zerolog.Nop())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.SetRequest(c.Request().WithContext(db.WithTenant(c.Request().Context(), "clinic_a")))
			return next(c)
		}
	})
	e.Use(auth.Authenticate(svc.issuer, store, zerolog.Nop()))
	router.Register(e.Group("/api/v1"), NewHandler(svc).Routes())
	return e, svc
}

func do(e *echo.Echo, method, target, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
}

func login(t *testing.T, e *echo.Echo) auth.TokenPair {
	t.Helper()
	rec := do(e, http.MethodPost, "/api/v1/register",
		`{"username":"ada","email":"ada@example.com","password":"correct horse","first_name":"Ada","last_name":"Lovelace"}`, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(e, http.MethodPost, "/api/v1/token", `{"username":"ada","password":"correct horse"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("token: %d %s", rec.Code, rec.Body.String())
	}
	var pair auth.TokenPair
	decodeBody(t, rec, &pair)
	return pair
}

func TestHandler_Register(t *testing.T) {
	e, _ := newServer(t)

	rec := do(e, http.MethodPost, "/api/v1/register",
		`{"username":"ada","email":"ada@example.com","password":"correct horse","first_name":"Ada"}`, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if strings.Contains(body, "password") || strings.Contains(body, "correct horse") {
		t.Errorf("response leaks secrets: %s", body)
	}
	var u UserResponse
	decodeBody(t, rec, &u)
	if u.Username != "ada" || u.FirstName != "Ada" {
		t.Errorf("unexpected user %+v", u)
	}

	rec = do(e, http.MethodPost, "/api/v1/register", `{"username":"ada","password":"another one"}`, "")
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate username, got %d", rec.Code)
	}

	rec = do(e, http.MethodPost, "/api/v1/register", `{"username":"bob","password":"short"}`, "")
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "password") {
		t.Errorf("expected 400 naming password, got %d %s", rec.Code, rec.Body.String())
	}

	rec = do(e, http.MethodPost, "/api/v1/register", `{"username":`, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestHandler_TokenAndMe(t *testing.T) {
	e, svc := newServer(t)
	pair := login(t, e)

	claims, err := svc.issuer.Parse(pair.Access, auth.TokenAccess)
	if err != nil || claims.TenantID != "clinic_a" {
		t.Fatalf("access token not bound to tenant: %+v, %v", claims, err)
	}

	rec := do(e, http.MethodGet, "/api/v1/me", "", pair.Access)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var me UserResponse
	decodeBody(t, rec, &me)
	if me.Username != "ada" || me.ID.String() != claims.Subject {
		t.Errorf("unexpected me %+v", me)
	}

	rec = do(e, http.MethodPut, "/api/v1/me", `{"first_name":"Augusta","username":"hacker"}`, pair.Access)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &me)
	if me.FirstName != "Augusta" || me.Username != "ada" || me.LastName != "Lovelace" {
		t.Errorf("unexpected update result %+v", me)
	}

	rec = do(e, http.MethodPatch, "/api/v1/me", `{"last_name":"King"}`, pair.Access)
	decodeBody(t, rec, &me)
	if rec.Code != http.StatusOK || me.LastName != "King" || me.FirstName != "Augusta" {
		t.Errorf("unexpected patch result %d %+v", rec.Code, me)
	}
}

func TestHandler_TokenBadCredentials(t *testing.T) {
	e, _ := newServer(t)
	login(t, e)

	rec := do(e, http.MethodPost, "/api/v1/token", `{"username":"ada","password":"wrong password"}`, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	var body apperr.Body
	decodeBody(t, rec, &body)
	if body.Error.Kind != apperr.KindUnauthenticated {
		t.Errorf("expected authentication_required, got %+v", body)
	}
}

func TestHandler_RefreshAndLogout(t *testing.T) {
	e, _ := newServer(t)
	pair := login(t, e)

	rec := do(e, http.MethodPost, "/api/v1/token/refresh", `{"refresh":"`+pair.Refresh+`"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var refreshed AccessResponse
	decodeBody(t, rec, &refreshed)
	if refreshed.Access == "" || refreshed.TokenType != "Bearer" {
		t.Errorf("unexpected refresh response %+v", refreshed)
	}

	rec = do(e, http.MethodPost, "/api/v1/logout", `{"refresh":"`+pair.Refresh+`"}`, pair.Access)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	if rec := do(e, http.MethodGet, "/api/v1/me", "", pair.Access); rec.Code != http.StatusUnauthorized {
		t.Errorf("revoked access token should be rejected, got %d", rec.Code)
	}
	if rec := do(e, http.MethodPost, "/api/v1/token/refresh", `{"refresh":"`+pair.Refresh+`"}`, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("revoked refresh token should be rejected, got %d", rec.Code)
	}
	// Tokens issued by the refresh before logout stay valid.
	if rec := do(e, http.MethodGet, "/api/v1/me", "", refreshed.Access); rec.Code != http.StatusOK {
		t.Errorf("independent access token should still work, got %d", rec.Code)
	}
}

func TestHandler_Logout_WithoutBody(t *testing.T) {
	e, _ := newServer(t)
	pair := login(t, e)

	if rec := do(e, http.MethodPost, "/api/v1/logout", "", pair.Access); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := do(e, http.MethodGet, "/api/v1/me", "", pair.Access); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", rec.Code)
	}
}

func TestHandler_RequiresAuthentication(t *testing.T) {
	e, _ := newServer(t)
	for _, r := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/me"},
		{http.MethodPut, "/api/v1/me"},
		{http.MethodPost, "/api/v1/logout"},
	} {
		if rec := do(e, r.method, r.path, "", ""); rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", r.method, r.path, rec.Code)
		}
	}

	if rec := do(e, http.MethodGet, "/api/v1/me", "", "garbage"); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for invalid token, got %d", rec.Code)
	}
}
