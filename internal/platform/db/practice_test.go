package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestExtractPracticeID_FromHeader(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Practice-ID", "lakeside_family")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	pid := extractPracticeID(c, "default")
	if pid != "lakeside_family" {
		t.Errorf("expected lakeside_family, got %s", pid)
	}
}

func TestExtractPracticeID_FromQuery(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?practice_id=northside", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	pid := extractPracticeID(c, "default")
	if pid != "northside" {
		t.Errorf("expected northside, got %s", pid)
	}
}

func TestExtractPracticeID_FromJWT(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("jwt_practice_id", "jwt_practice")

	pid := extractPracticeID(c, "default")
	if pid != "jwt_practice" {
		t.Errorf("expected jwt_practice, got %s", pid)
	}
}

func TestExtractPracticeID_Default(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	pid := extractPracticeID(c, "default")
	if pid != "default" {
		t.Errorf("expected default, got %s", pid)
	}
}

func TestExtractPracticeID_Priority(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?practice_id=query", nil)
	req.Header.Set("X-Practice-ID", "header")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("jwt_practice_id", "jwt")

	// JWT claim wins over header, header wins over query
	pid := extractPracticeID(c, "default")
	if pid != "jwt" {
		t.Errorf("expected jwt, got %s", pid)
	}

	c.Set("jwt_practice_id", "")
	pid = extractPracticeID(c, "default")
	if pid != "header" {
		t.Errorf("expected header when JWT is empty, got %s", pid)
	}
}

func TestPracticeIDPattern(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"abc", true},
		{"lakeside_1", true},
		{"A1B2C3", true},
		{"a", true},
		{"a-b", false},
		{"a.b", false},
		{"a b", false},
		{"'; DROP TABLE", false},
		{"", false},
		{"practice@1", false},
	}

	for _, tt := range tests {
		got := practiceIDPattern.MatchString(tt.input)
		if got != tt.valid {
			t.Errorf("practiceIDPattern.MatchString(%q) = %v, want %v", tt.input, got, tt.valid)
		}
	}
}

func TestPracticeFromContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), PracticeIDKey, "test_practice")
	if pid := PracticeFromContext(ctx); pid != "test_practice" {
		t.Errorf("expected test_practice, got %s", pid)
	}

	if pid := PracticeFromContext(context.Background()); pid != "" {
		t.Errorf("expected empty string, got %s", pid)
	}

	wrong := context.WithValue(context.Background(), PracticeIDKey, 12345)
	if pid := PracticeFromContext(wrong); pid != "" {
		t.Errorf("expected empty string for wrong type, got %q", pid)
	}
}

func TestConnFromContext_Nil(t *testing.T) {
	if conn := ConnFromContext(context.Background()); conn != nil {
		t.Error("expected nil conn from empty context")
	}

	wrong := context.WithValue(context.Background(), DBConnKey, "not-a-conn")
	if conn := ConnFromContext(wrong); conn != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

func TestCreatePracticeSchema_InvalidID(t *testing.T) {
	invalidIDs := []string{"invalid-id!", "practice-with-dash", "ten ant", "drop;table", ""}
	for _, id := range invalidIDs {
		err := CreatePracticeSchema(context.Background(), nil, id, "")
		if err == nil {
			t.Errorf("expected error for invalid practice ID %q", id)
		}
	}
}

func TestTxFromContext_Nil(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Error("expected nil tx from empty context")
	}

	wrong := context.WithValue(context.Background(), DBTxKey, "not-a-tx")
	if tx := TxFromContext(wrong); tx != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

func TestWithTx_NoConnection(t *testing.T) {
	err := WithTx(context.Background(), func(ctx context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected error when no connection in context")
	}
	if err.Error() != "no database connection in context" {
		t.Errorf("unexpected error message: %s", err.Error())
	}
}
