package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clearbill/clearbill/pkg/pagination"
)

func newRequestContext(t *testing.T, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestRecordPaymentHandler(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	h := NewHandler(svc)

	body := fmt.Sprintf(`{
		"patient_id": %q,
		"amount": "75.50",
		"method": "credit_card",
		"source": "patient",
		"payment_date": "2026-08-15"
	}`, uuid.New())
	c, rec := newRequestContext(t, http.MethodPost, "/", body)

	if err := h.RecordPayment(c); err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	var got Payment
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Status != StatusCompleted || got.Method != MethodCreditCard {
		t.Errorf("got status=%s method=%s", got.Status, got.Method)
	}
}

func TestRecordPaymentHandler_ValidationError(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	h := NewHandler(svc)

	body := fmt.Sprintf(`{"patient_id": %q, "amount": "-5", "method": "cash", "source": "patient"}`, uuid.New())
	c, _ := newRequestContext(t, http.MethodPost, "/", body)

	err := h.RecordPayment(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestGetPaymentHandler_NotFound(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	h := NewHandler(svc)

	c, _ := newRequestContext(t, http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	err := h.GetPayment(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestRefundPaymentHandler(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	h := NewHandler(svc)
	p, err := svc.Record(context.Background(), validRecordInput(uuid.New()))
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	c, rec := newRequestContext(t, http.MethodPost, "/", `{"amount":"100.00","reason":"cancelled"}`)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())

	if err := h.RefundPayment(c); err != nil {
		t.Fatalf("RefundPayment: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	// A second refund of a fully refunded payment is a state error.
	c2, _ := newRequestContext(t, http.MethodPost, "/", `{"amount":"1.00","reason":"again"}`)
	c2.SetParamNames("id")
	c2.SetParamValues(p.ID.String())
	err = h.RefundPayment(c2)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestListPaymentsHandler(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	h := NewHandler(svc)
	patientID := uuid.New()
	for i := 0; i < 2; i++ {
		if _, err := svc.Record(context.Background(), validRecordInput(patientID)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	c, rec := newRequestContext(t, http.MethodGet, "/?patient_id="+patientID.String(), "")
	if err := h.ListPayments(c); err != nil {
		t.Fatalf("ListPayments: %v", err)
	}
	var resp pagination.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Total != 2 {
		t.Errorf("total = %d, want 2", resp.Total)
	}

	c2, _ := newRequestContext(t, http.MethodGet, "/?status=bogus", "")
	err := h.ListPayments(c2)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad status, got %v", err)
	}
}
