package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", Validation("bad"), KindValidation},
		{"wrapped not found", fmt.Errorf("get patient: %w", NotFound("patient not found")), KindNotFound},
		{"plain error", errors.New("boom"), KindInternal},
		{"constraint", Constraint("dup"), KindConstraint},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:       http.StatusBadRequest,
		KindConstraint:       http.StatusConflict,
		KindNotFound:         http.StatusNotFound,
		KindUnauthenticated:  http.StatusUnauthorized,
		KindPermissionDenied: http.StatusForbidden,
		KindRateLimited:      http.StatusTooManyRequests,
		KindInternal:         http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := HTTPStatus(kind); got != want {
			t.Errorf("HTTPStatus(%q) = %d, want %d", kind, got, want)
		}
	}
}

func TestFieldErrors(t *testing.T) {
	fe := FieldErrors{}
	if fe.Err() != nil {
		t.Fatal("expected nil error for empty field set")
	}
	fe.Add("first_name", "this field is required")
	fe.Add("first_name", "second message is ignored")

	var e *Error
	if !errors.As(fe.Err(), &e) {
		t.Fatal("expected *Error")
	}
	if e.Kind != KindValidation {
		t.Errorf("expected validation kind, got %q", e.Kind)
	}
	if e.Fields["first_name"] != "this field is required" {
		t.Errorf("unexpected field message %q", e.Fields["first_name"])
	}
}

func TestRender_HidesInternalCause(t *testing.T) {
	status, body := Render(Wrap(KindInternal, errors.New("connection refused"), "list patients"))
	if status != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", status)
	}
	if body.Error.Message != "internal server error" {
		t.Errorf("expected generic message, got %q", body.Error.Message)
	}
}

func TestRender_EchoHTTPError(t *testing.T) {
	status, body := Render(echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header"))
	if status != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", status)
	}
	if body.Error.Kind != KindUnauthenticated {
		t.Errorf("expected authentication_required, got %q", body.Error.Kind)
	}
	if body.Error.Message != "missing authorization header" {
		t.Errorf("unexpected message %q", body.Error.Message)
	}
}

func TestHTTPErrorHandler_WritesEnvelope(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	HTTPErrorHandler(zerolog.Nop())(Validation("status must be one of: INQUIRY"), c)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body Body
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body.Error.Kind != KindValidation {
		t.Errorf("expected validation kind, got %q", body.Error.Kind)
	}
}
