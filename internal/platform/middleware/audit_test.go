package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/ehr/records/internal/platform/apperr"
	"github.com/ehr/records/internal/platform/auth"
)

// mockRecorder collects audit entries for assertions.
type mockRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
	err     error
}

func (m *mockRecorder) RecordAccess(entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func (m *mockRecorder) last() AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[len(m.entries)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func newTestContext(method, path, userID string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	if userID != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), userID))
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestAudit_PatientRead(t *testing.T) {
	rec := &mockRecorder{}
	patientID := uuid.New().String()

	c, _ := newTestContext(http.MethodGet, fmt.Sprintf("/api/v1/patients/%s", patientID), "user-1")
	c.Set("request_id", "req-abc")
	c.Set("tenant_id", "default")

	if err := Audit(zerolog.Nop(), rec)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("expected 1 audit entry, got %d", rec.count())
	}
	entry := rec.last()
	if entry.UserID != "user-1" {
		t.Errorf("expected user_id 'user-1', got %q", entry.UserID)
	}
	if entry.Resource != "patients" || entry.PatientID != patientID {
		t.Errorf("unexpected resource %q / patient %q", entry.Resource, entry.PatientID)
	}
	if entry.Action != "read" {
		t.Errorf("expected action 'read', got %q", entry.Action)
	}
	if entry.RequestID != "req-abc" || entry.TenantID != "default" {
		t.Errorf("unexpected request/tenant %q/%q", entry.RequestID, entry.TenantID)
	}
	if entry.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", entry.StatusCode)
	}
}

func TestAudit_Actions(t *testing.T) {
	id := uuid.New().String()
	tests := []struct {
		method string
		path   string
		action string
	}{
		{http.MethodGet, "/api/v1/patients", "list"},
		{http.MethodGet, "/api/v1/patients/stats", "list"},
		{http.MethodPost, "/api/v1/patients", "create"},
		{http.MethodPut, "/api/v1/patients/" + id, "update"},
		{http.MethodPatch, "/api/v1/custom-fields/" + id, "update"},
		{http.MethodDelete, "/api/v1/patients/" + id, "delete"},
		{http.MethodGet, "/api/v1/patients/" + id + "/addresses", "read"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := &mockRecorder{}
			c, _ := newTestContext(tt.method, tt.path, "user-2")
			_ = Audit(zerolog.Nop(), rec)(okHandler)(c)
			if got := rec.last().Action; got != tt.action {
				t.Errorf("action = %q, want %q", got, tt.action)
			}
		})
	}
}

func TestAudit_CustomFieldHasNoPatient(t *testing.T) {
	rec := &mockRecorder{}
	id := uuid.New().String()
	c, _ := newTestContext(http.MethodGet, "/api/v1/custom-fields/"+id, "user-3")

	_ = Audit(zerolog.Nop(), rec)(okHandler)(c)
	entry := rec.last()
	if entry.Resource != "custom-fields" || entry.ResourceID != id {
		t.Errorf("unexpected entry %+v", entry)
	}
	if entry.PatientID != "" {
		t.Errorf("expected no patient id, got %q", entry.PatientID)
	}
}

func TestAudit_SkipsUnauditedPaths(t *testing.T) {
	for _, path := range []string{"/health", "/metrics", "/api/v1/token", "/api/v1/me", "/api/v1/register"} {
		rec := &mockRecorder{}
		c, _ := newTestContext(http.MethodPost, path, "")
		if err := Audit(zerolog.Nop(), rec)(okHandler)(c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.count() != 0 {
			t.Errorf("expected no audit entry for %s", path)
		}
	}
}

func TestAudit_RecordsErrorStatus(t *testing.T) {
	rec := &mockRecorder{}
	c, _ := newTestContext(http.MethodGet, "/api/v1/patients/"+uuid.New().String(), "user-4")

	notFound := func(c echo.Context) error { return apperr.NotFound("patient not found") }
	err := Audit(zerolog.Nop(), rec)(notFound)(c)
	if err == nil {
		t.Fatal("expected handler error to propagate")
	}
	if rec.last().StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 recorded, got %d", rec.last().StatusCode)
	}
}

func TestAudit_RecorderFailureDoesNotFailRequest(t *testing.T) {
	rec := &mockRecorder{err: errors.New("disk full")}
	c, httpRec := newTestContext(http.MethodGet, "/api/v1/patients", "user-5")

	if err := Audit(zerolog.Nop(), rec)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if httpRec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", httpRec.Code)
	}
}

func TestAudit_LogsPHIAccess(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	c, _ := newTestContext(http.MethodGet, "/api/v1/patients", "user-6")

	_ = Audit(logger)(okHandler)(c)

	var event map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &event); err != nil {
		t.Fatalf("expected one JSON log line, got %q: %v", buf.String(), err)
	}
	if event["type"] != "phi_access" || event["user_id"] != "user-6" {
		t.Errorf("unexpected audit log %v", event)
	}
}

func TestAudit_MetricsRecorder(t *testing.T) {
	m := NewMetrics()
	id := uuid.New().String()
	for _, method := range []string{http.MethodGet, http.MethodGet, http.MethodPut} {
		c, _ := newTestContext(method, "/api/v1/patients/"+id, "user-8")
		_ = Audit(zerolog.Nop(), m)(okHandler)(c)
	}
	if got := testutil.ToFloat64(m.phiAccess.WithLabelValues("patients", "read")); got != 2 {
		t.Errorf("expected 2 reads, got %v", got)
	}
	if got := testutil.ToFloat64(m.phiAccess.WithLabelValues("patients", "update")); got != 1 {
		t.Errorf("expected 1 update, got %v", got)
	}
}
