package bed

import (
	"errors"
	"net/http"
	"strings"

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
	api.POST("/beds", h.RegisterBed)
	api.GET("/beds", h.ListBeds)
	api.GET("/beds/:id", h.GetBed)
	api.PATCH("/beds/:id/status", h.SetStatus)
	api.POST("/beds/:id/deactivate", h.DeactivateBed)
	api.GET("/beds/:id/status-history", h.GetStatusHistory)

	// Read-only acuity-matched candidate query.
	api.GET("/units/:unitId/beds", h.FindCandidates)
}

func (h *Handler) RegisterBed(c echo.Context) error {
	var b Bed
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.RegisterBed(c.Request().Context(), &b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBed(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	b, err := h.svc.GetBed(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "bed not found")
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBeds(c echo.Context) error {
	pg := pagination.FromContext(c)
	beds, total, err := h.svc.ListBeds(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(beds, total, pg.Limit, pg.Offset))
}

type setStatusRequest struct {
	Status Status `json:"status"`
	Reason string `json:"reason"`
}

func (h *Handler) SetStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req setStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	b, err := h.svc.SetStatus(c.Request().Context(), id, req.Status, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, ErrBedNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "bed not found")
		case errors.Is(err, ErrInvalidTransition):
			return c.JSON(http.StatusConflict, map[string]string{
				"code":    "INVALID_TRANSITION",
				"message": err.Error(),
			})
		case errors.Is(err, ErrBedInactive):
			return echo.NewHTTPError(http.StatusConflict, "bed is deactivated")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) DeactivateBed(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Deactivate(c.Request().Context(), id); err != nil {
		if errors.Is(err, ErrBedNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "bed not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetStatusHistory(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pg := pagination.FromContext(c)
	changes, total, err := h.svc.ListStatusHistory(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(changes, total, pg.Limit, pg.Offset))
}

func (h *Handler) FindCandidates(c echo.Context) error {
	unitID, err := uuid.Parse(c.Param("unitId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid unit id")
	}
	var caps []string
	if raw := c.QueryParam("capabilities"); raw != "" {
		caps = strings.Split(raw, ",")
	}
	acuity := c.QueryParam("acuity")
	if acuity == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "acuity is required")
	}

	beds, err := h.svc.FindCandidates(c.Request().Context(), unitID, caps, acuity)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if beds == nil {
		beds = []*Bed{}
	}
	return c.JSON(http.StatusOK, beds)
}
