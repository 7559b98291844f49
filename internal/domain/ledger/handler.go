package ledger

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

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
	api.GET("/patients/:id/transactions", h.ListTransactions)
	api.POST("/transactions/:id/reverse", h.ReverseTransaction)
}

func (h *Handler) ListTransactions(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}

	var f Filter
	if raw := c.QueryParam("type"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			t := TxType(strings.TrimSpace(part))
			if !t.Valid() {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid transaction type: "+string(t))
			}
			f.Types = append(f.Types, t)
		}
	}
	if raw := c.QueryParam("from"); raw != "" {
		from, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid from date, want YYYY-MM-DD")
		}
		f.From = &from
	}
	if raw := c.QueryParam("to"); raw != "" {
		to, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid to date, want YYYY-MM-DD")
		}
		f.To = &to
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.History(c.Request().Context(), patientID, f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(billing.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type reverseRequest struct {
	CreatedBy string `json:"created_by"`
}

func (h *Handler) ReverseTransaction(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req reverseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	reversal, err := h.svc.Reverse(c.Request().Context(), id, req.CreatedBy)
	if err != nil {
		return echo.NewHTTPError(billing.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, reversal)
}
