package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestExtractTenantID(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header string
		jwt    string
		want   string
	}{
		{"header", "/", "hospital_abc", "", "hospital_abc"},
		{"query", "/?tenant_id=clinic_xyz", "", "", "clinic_xyz"},
		{"jwt", "/", "", "jwt_tenant", "jwt_tenant"},
		{"default", "/", "", "", "default"},
		{"jwt wins over header and query", "/?tenant_id=query", "header", "jwt", "jwt"},
		{"header wins over query", "/?tenant_id=query_tenant", "header_tenant", "", "header_tenant"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set(TenantHeader, tt.header)
			}
			c := e.NewContext(req, httptest.NewRecorder())
			if tt.jwt != "" {
				c.Set("jwt_tenant_id", tt.jwt)
			}

			if got := extractTenantID(c, "default"); got != tt.want {
				t.Errorf("extractTenantID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidTenantID(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"abc", true},
		{"ABC", true},
		{"tenant_1", true},
		{"default", true},
		{"a-b", false},
		{"a.b", false},
		{"a b", false},
		{"'; DROP TABLE", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidTenantID(tt.input); got != tt.valid {
			t.Errorf("ValidTenantID(%q) = %v, want %v", tt.input, got, tt.valid)
		}
	}
}

func TestSchemaName(t *testing.T) {
	if got := SchemaName("clinic_1"); got != `"tenant_clinic_1"` {
		t.Errorf("SchemaName() = %s", got)
	}
}

func TestTenantMiddleware_RejectsInvalidTenant(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil)
	req.Header.Set(TenantHeader, "bad-tenant")
	c := e.NewContext(req, httptest.NewRecorder())

	called := false
	h := TenantMiddleware(nil, "default", nil)(func(c echo.Context) error {
		called = true
		return nil
	})

	err := h(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 HTTPError, got %v", err)
	}
	if called {
		t.Error("handler must not run for an invalid tenant")
	}
}

func TestTenantMiddleware_Skipper(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	called := false
	h := TenantMiddleware(nil, "default", func(echo.Context) bool { return true })(func(c echo.Context) error {
		called = true
		return nil
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected skipped request to reach the handler")
	}
}

func TestTenantFromContext(t *testing.T) {
	ctx := WithTenant(context.Background(), "test_tenant")
	if tid := TenantFromContext(ctx); tid != "test_tenant" {
		t.Errorf("expected test_tenant, got %s", tid)
	}
	if empty := TenantFromContext(context.Background()); empty != "" {
		t.Errorf("expected empty string, got %s", empty)
	}
}

func TestConnFromContext_Nil(t *testing.T) {
	if conn := ConnFromContext(context.Background()); conn != nil {
		t.Error("expected nil conn from empty context")
	}
}

func TestCreateTenantSchema_InvalidID(t *testing.T) {
	for _, id := range []string{"invalid-id!", "tenant.with.dot", "ten ant", "drop;table"} {
		if _, err := CreateTenantSchema(context.Background(), nil, id, nil); err == nil {
			t.Errorf("expected error for invalid tenant ID %q", id)
		}
	}
}
