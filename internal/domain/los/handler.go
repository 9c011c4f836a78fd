package los

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.PUT("/units/:unitId/benchmarks", h.UpsertBenchmark)
	api.GET("/units/:unitId/benchmarks", h.ListBenchmarks)
	api.DELETE("/benchmarks/:id", h.DeleteBenchmark)
	api.GET("/assignments/:id/los", h.EstimateRemaining)
	api.GET("/units/:unitId/los", h.EstimateUnit)
}

func (h *Handler) UpsertBenchmark(c echo.Context) error {
	unitID, err := uuid.Parse(c.Param("unitId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid unit id")
	}
	var b Benchmark
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b.UnitID = unitID
	if err := h.svc.UpsertBenchmark(c.Request().Context(), &b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, &b)
}

func (h *Handler) ListBenchmarks(c echo.Context) error {
	unitID, err := uuid.Parse(c.Param("unitId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid unit id")
	}
	benches, err := h.svc.ListBenchmarks(c.Request().Context(), unitID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if benches == nil {
		benches = []*Benchmark{}
	}
	return c.JSON(http.StatusOK, benches)
}

func (h *Handler) DeleteBenchmark(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteBenchmark(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) EstimateRemaining(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	est, err := h.svc.EstimateRemaining(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrAssignmentInactive) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, est)
}

func (h *Handler) EstimateUnit(c echo.Context) error {
	unitID, err := uuid.Parse(c.Param("unitId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid unit id")
	}
	ests, err := h.svc.EstimateUnit(c.Request().Context(), unitID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if ests == nil {
		ests = []*Estimate{}
	}
	return c.JSON(http.StatusOK, ests)
}
