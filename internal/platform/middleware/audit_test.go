package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestAudit_RecordsBillingAccess(t *testing.T) {
	var recorded []AuditEntry
	recorder := AuditRecorderFunc(func(entry AuditEntry) error {
		recorded = append(recorded, entry)
		return nil
	})

	e := echo.New()
	patientID := uuid.New().String()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/"+patientID+"/balance", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "req-123")
	c.Set("practice_id", "lakeside")

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}

	if err := Audit(zerolog.Nop(), recorder)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(recorded) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(recorded))
	}
	entry := recorded[0]
	if entry.Action != "read" {
		t.Errorf("expected action read, got %s", entry.Action)
	}
	if entry.ResourceType != "patients" {
		t.Errorf("expected resource type patients, got %s", entry.ResourceType)
	}
	if entry.PatientID != patientID {
		t.Errorf("expected patient %s, got %s", patientID, entry.PatientID)
	}
	if entry.PracticeID != "lakeside" {
		t.Errorf("expected practice lakeside, got %s", entry.PracticeID)
	}
	if entry.RequestID != "req-123" {
		t.Errorf("expected request id req-123, got %s", entry.RequestID)
	}
}

func TestAudit_SkipsNonAPIRoutes(t *testing.T) {
	var recorded []AuditEntry
	recorder := AuditRecorderFunc(func(entry AuditEntry) error {
		recorded = append(recorded, entry)
		return nil
	})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}

	if err := Audit(zerolog.Nop(), recorder)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recorded) != 0 {
		t.Errorf("expected no audit entries for /health, got %d", len(recorded))
	}
}

func TestHTTPMethodToAction(t *testing.T) {
	tests := []struct {
		method string
		action string
	}{
		{http.MethodGet, "read"},
		{http.MethodHead, "read"},
		{http.MethodPost, "create"},
		{http.MethodPut, "update"},
		{http.MethodPatch, "update"},
		{http.MethodDelete, "delete"},
		{"TRACE", "read"},
	}
	for _, tt := range tests {
		if got := httpMethodToAction(tt.method); got != tt.action {
			t.Errorf("httpMethodToAction(%s) = %s, want %s", tt.method, got, tt.action)
		}
	}
}

func TestExtractResourceType(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/v1/claims", "claims"},
		{"/api/v1/claims/abc-123", "claims"},
		{"/api/v1/payments/abc/refund", "payments"},
		{"/api/v1/", "unknown"},
		{"/health", "unknown"},
	}
	for _, tt := range tests {
		if got := extractResourceType(tt.path); got != tt.want {
			t.Errorf("extractResourceType(%s) = %s, want %s", tt.path, got, tt.want)
		}
	}
}

func TestExtractPatientID_FromQuery(t *testing.T) {
	e := echo.New()
	patientID := uuid.New().String()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/claims?patient_id="+patientID, nil)
	c := e.NewContext(req, httptest.NewRecorder())

	if got := extractPatientID(c); got != patientID {
		t.Errorf("expected %s, got %s", patientID, got)
	}
}
