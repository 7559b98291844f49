package balance

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clearbill/clearbill/internal/domain/billing"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients/:id/balance", h.GetBalance)
}

func (h *Handler) GetBalance(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	pb, err := h.svc.PatientBalance(c.Request().Context(), patientID)
	if err != nil {
		return echo.NewHTTPError(billing.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, pb)
}
