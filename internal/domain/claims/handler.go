package claims

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
	api.POST("/claims", h.CreateClaim)
	api.GET("/claims", h.ListClaims)
	api.GET("/claims/:id", h.GetClaim)
	api.DELETE("/claims/:id", h.DeleteClaim)
	api.POST("/claims/:id/submit", h.SubmitClaim)
	api.POST("/claims/:id/response", h.ReceiveResponse)
	api.POST("/claims/:id/void", h.VoidClaim)
	api.POST("/claims/:id/appeal", h.AppealClaim)
}

type createClaimRequest struct {
	PatientID         uuid.UUID       `json:"patient_id"`
	ProviderID        uuid.UUID       `json:"provider_id"`
	InsurancePolicyID uuid.UUID       `json:"insurance_policy_id"`
	ClaimType         ClaimType       `json:"claim_type"`
	ServiceDateFrom   string          `json:"service_date_from"`
	ServiceDateTo     string          `json:"service_date_to"`
	TotalCharge       decimal.Decimal `json:"total_charge"`
	DiagnosisCodes    []string        `json:"diagnosis_codes"`
	ProcedureCodes    []string        `json:"procedure_codes"`
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func (h *Handler) CreateClaim(c echo.Context) error {
	var req createClaimRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	in := CreateInput{
		PatientID:         req.PatientID,
		ProviderID:        req.ProviderID,
		InsurancePolicyID: req.InsurancePolicyID,
		ClaimType:         req.ClaimType,
		TotalCharge:       req.TotalCharge,
		DiagnosisCodes:    req.DiagnosisCodes,
		ProcedureCodes:    req.ProcedureCodes,
	}
	if req.ServiceDateFrom != "" {
		from, err := parseDate(req.ServiceDateFrom)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid service_date_from")
		}
		in.ServiceDateFrom = from
	}
	if req.ServiceDateTo != "" {
		to, err := parseDate(req.ServiceDateTo)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid service_date_to")
		}
		in.ServiceDateTo = to
	}

	claim, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return echo.NewHTTPError(billing.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, claim)
}

func (h *Handler) GetClaim(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	claim, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(billing.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, claim)
}

func (h *Handler) ListClaims(c echo.Context) error {
	var f Filter
	if raw := c.QueryParam("patient_id"); raw != "" {
		pid, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &pid
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

func (h *Handler) DeleteClaim(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(billing.HTTPStatus(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

type submitClaimRequest struct {
	Method string `json:"method"`
}

func (h *Handler) SubmitClaim(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req submitClaimRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	claim, err := h.svc.Submit(c.Request().Context(), id, req.Method)
	if err != nil {
		return echo.NewHTTPError(billing.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, claim)
}

type claimResponseRequest struct {
	Status       Status  `json:"status"`
	DenialReason *string `json:"denial_reason,omitempty"`
	DenialCode   *string `json:"denial_code,omitempty"`
}

func (h *Handler) ReceiveResponse(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req claimResponseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	claim, err := h.svc.ReceiveResponse(c.Request().Context(), id, req.Status, req.DenialReason, req.DenialCode)
	if err != nil {
		return echo.NewHTTPError(billing.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, claim)
}

func (h *Handler) VoidClaim(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	claim, err := h.svc.Void(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(billing.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, claim)
}

func (h *Handler) AppealClaim(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	claim, err := h.svc.Appeal(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(billing.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, claim)
}
