package payments

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/clearbill/clearbill/internal/domain/billing"
	"github.com/clearbill/clearbill/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/payments", h.RecordPayment)
	api.GET("/payments", h.ListPayments)
	api.GET("/payments/:id", h.GetPayment)
	api.POST("/payments/:id/refund", h.RefundPayment)
}

type recordPaymentRequest struct {
	PatientID   uuid.UUID       `json:"patient_id"`
	ClaimID     *uuid.UUID      `json:"claim_id,omitempty"`
	PaymentDate string          `json:"payment_date,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Method      Method          `json:"method"`
	Source      Source          `json:"source"`
	Allocation  *Allocation     `json:"allocation,omitempty"`
	CreatedBy   string          `json:"created_by,omitempty"`
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func (h *Handler) RecordPayment(c echo.Context) error {
	var req recordPaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	in := RecordInput{
		PatientID:  req.PatientID,
		ClaimID:    req.ClaimID,
		Amount:     req.Amount,
		Method:     req.Method,
		Source:     req.Source,
		Allocation: req.Allocation,
		CreatedBy:  req.CreatedBy,
	}
	if req.PaymentDate != "" {
		d, err := parseDate(req.PaymentDate)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid payment_date")
		}
		in.PaymentDate = d
	}

	p, err := h.svc.Record(c.Request().Context(), in)
	if err != nil {
		return echo.NewHTTPError(billing.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPayment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(billing.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPayments(c echo.Context) error {
	var f Filter
	if raw := c.QueryParam("patient_id"); raw != "" {
		pid, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &pid
	}
	if raw := c.QueryParam("claim_id"); raw != "" {
		cid, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid claim_id")
		}
		f.ClaimID = &cid
	}
	if raw := c.QueryParam("status"); raw != "" {
		st := Status(raw)
		if !st.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status: "+raw)
		}
		f.Status = &st
	}
	if raw := c.QueryParam("from"); raw != "" {
		from, err := parseDate(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid from date")
		}
		f.From = &from
	}
	if raw := c.QueryParam("to"); raw != "" {
		to, err := parseDate(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid to date")
		}
		f.To = &to
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(billing.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type refundRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

func (h *Handler) RefundPayment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req refundRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.Refund(c.Request().Context(), id, req.Amount, req.Reason)
	if err != nil {
		return echo.NewHTTPError(billing.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, p)
}
