package assignment

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/bedcast/bedcast/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/assignments", h.AssignBed)
	api.GET("/assignments/:id", h.GetAssignment)
	api.POST("/assignments/:id/discharge", h.Discharge)
	api.GET("/assignments", h.ListAssignments)
	api.GET("/units/:unitId/assignments", h.ListActiveByUnit)
}

// errorBody is the discriminated failure shape callers branch on.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) AssignBed(c echo.Context) error {
	var req AssignRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	a, err := h.svc.AssignBed(c.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoBedAvailable):
			return c.JSON(http.StatusConflict, errorBody{Code: "NO_BED_AVAILABLE", Message: err.Error()})
		case errors.Is(err, ErrPatientAlreadyAssigned):
			return c.JSON(http.StatusConflict, errorBody{Code: "PATIENT_ALREADY_ASSIGNED", Message: err.Error()})
		default:
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	return c.JSON(http.StatusCreated, a)
}

type dischargeRequest struct {
	Disposition string    `json:"disposition"`
	Timestamp   time.Time `json:"timestamp"`
}

func (h *Handler) Discharge(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req dischargeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	a, err := h.svc.DischargeOrTransfer(c.Request().Context(), id, req.Disposition, req.Timestamp)
	if err != nil {
		switch {
		case errors.Is(err, ErrAssignmentNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "assignment not found")
		case errors.Is(err, ErrAssignmentClosed):
			return c.JSON(http.StatusConflict, errorBody{Code: "ASSIGNMENT_CLOSED", Message: err.Error()})
		default:
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) GetAssignment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.GetAssignment(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "assignment not found")
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAssignments(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()

	if patientID := c.QueryParam("patient_id"); patientID != "" {
		asgs, total, err := h.svc.ListByPatient(ctx, patientID, pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(asgs, total, pg.Limit, pg.Offset))
	}

	if bedIDRaw := c.QueryParam("bed_id"); bedIDRaw != "" {
		bedID, err := uuid.Parse(bedIDRaw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid bed_id")
		}
		asgs, total, err := h.svc.ListByBed(ctx, bedID, pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(asgs, total, pg.Limit, pg.Offset))
	}

	return echo.NewHTTPError(http.StatusBadRequest, "patient_id or bed_id is required")
}

func (h *Handler) ListActiveByUnit(c echo.Context) error {
	unitID, err := uuid.Parse(c.Param("unitId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid unit id")
	}
	asgs, err := h.svc.ListActiveByUnit(c.Request().Context(), unitID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if asgs == nil {
		asgs = []*Assignment{}
	}
	return c.JSON(http.StatusOK, asgs)
}
