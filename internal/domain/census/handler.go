package census

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/bedcast/bedcast/internal/platform/cache"
	"github.com/bedcast/bedcast/internal/platform/db"
	"github.com/bedcast/bedcast/pkg/pagination"
)

type Handler struct {
	svc   *Service
	cache *cache.Cache
}

func NewHandler(svc *Service, c *cache.Cache) *Handler {
	return &Handler{svc: svc, cache: c}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/units/:unitId/census", h.GetCensus)
	api.GET("/units/:unitId/census/history", h.ListSnapshots)
	api.POST("/census/snapshot", h.TriggerSnapshot)
}

func (h *Handler) GetCensus(c echo.Context) error {
	unitID, err := uuid.Parse(c.Param("unitId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid unit id")
	}
	ctx := c.Request().Context()

	var asOf time.Time
	if raw := c.QueryParam("at"); raw != "" {
		asOf, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "at must be RFC3339")
		}
	}

	// Only the current census is cached; historical lookups hit the store.
	if asOf.IsZero() {
		key := fmt.Sprintf("census:%s:%s", db.FacilityFromContext(ctx), unitID)
		var cached Snapshot
		if err := h.cache.Get(ctx, key, &cached); err == nil {
			return c.JSON(http.StatusOK, &cached)
		}
		snap, err := h.svc.GetCensus(ctx, unitID, time.Time{})
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		h.cache.Set(ctx, key, snap)
		return c.JSON(http.StatusOK, snap)
	}

	snap, err := h.svc.GetCensus(ctx, unitID, asOf)
	if err != nil {
		if errors.Is(err, ErrSnapshotNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "no snapshot for unit")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) ListSnapshots(c echo.Context) error {
	unitID, err := uuid.Parse(c.Param("unitId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid unit id")
	}
	pg := pagination.FromContext(c)
	snaps, total, err := h.svc.ListSnapshots(c.Request().Context(), unitID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(snaps, total, pg.Limit, pg.Offset))
}

// TriggerSnapshot runs the roll-up for all active units on demand, outside
// the daily schedule.
func (h *Handler) TriggerSnapshot(c echo.Context) error {
	asOf := time.Now().UTC()
	if err := h.svc.RecordScheduledSnapshot(c.Request().Context(), asOf); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]interface{}{"as_of": asOf})
}
