package forecast

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/bedcast/bedcast/internal/platform/cache"
	"github.com/bedcast/bedcast/internal/platform/db"
)

type Handler struct {
	svc   *Service
	cache *cache.Cache
}

func NewHandler(svc *Service, c *cache.Cache) *Handler {
	return &Handler{svc: svc, cache: c}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/units/:unitId/forecast", h.GetForecast)
	api.POST("/units/:unitId/forecast/regenerate", h.Regenerate)
	api.POST("/units/:unitId/forecast/backtest", h.Backtest)
	api.POST("/arrivals", h.ScheduleArrival)
	api.GET("/units/:unitId/arrivals", h.ListArrivals)
	api.DELETE("/arrivals/:id", h.CancelArrival)
}

func (h *Handler) GetForecast(c echo.Context) error {
	unitID, err := uuid.Parse(c.Param("unitId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid unit id")
	}
	days := 0
	if raw := c.QueryParam("days"); raw != "" {
		days, err = strconv.Atoi(raw)
		if err != nil || days < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "days must be a positive integer")
		}
	}
	ctx := c.Request().Context()

	key := fmt.Sprintf("forecast:%s:%s:%d", db.FacilityFromContext(ctx), unitID, days)
	var cached []*Forecast
	if err := h.cache.Get(ctx, key, &cached); err == nil {
		return c.JSON(http.StatusOK, cached)
	}

	fcs, err := h.svc.GetForecast(ctx, unitID, days)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.cache.Set(ctx, key, fcs)
	return c.JSON(http.StatusOK, fcs)
}

func (h *Handler) Regenerate(c echo.Context) error {
	unitID, err := uuid.Parse(c.Param("unitId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid unit id")
	}
	ctx := c.Request().Context()
	fcs, err := h.svc.GenerateForUnit(ctx, unitID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.cache.Invalidate(ctx, fmt.Sprintf("forecast:%s:%s:*", db.FacilityFromContext(ctx), unitID))
	return c.JSON(http.StatusOK, fcs)
}

type backtestRequest struct {
	TargetDate time.Time `json:"target_date"`
}

func (h *Handler) Backtest(c echo.Context) error {
	unitID, err := uuid.Parse(c.Param("unitId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid unit id")
	}
	var req backtestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.TargetDate.IsZero() {
		return echo.NewHTTPError(http.StatusBadRequest, "target_date is required")
	}
	f, err := h.svc.Backtest(c.Request().Context(), unitID, req.TargetDate)
	if err != nil {
		if errors.Is(err, ErrNoForecast) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) ScheduleArrival(c echo.Context) error {
	var a ScheduledArrival
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.ScheduleArrival(c.Request().Context(), &a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, &a)
}

func (h *Handler) ListArrivals(c echo.Context) error {
	unitID, err := uuid.Parse(c.Param("unitId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid unit id")
	}
	arrivals, err := h.svc.ListArrivals(c.Request().Context(), unitID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if arrivals == nil {
		arrivals = []*ScheduledArrival{}
	}
	return c.JSON(http.StatusOK, arrivals)
}

func (h *Handler) CancelArrival(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.CancelArrival(c.Request().Context(), id); err != nil {
		if errors.Is(err, ErrArrivalNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
