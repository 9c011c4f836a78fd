package db

import (
	"context"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	// FacilityIDKey carries the facility scope for every engine call.
	FacilityIDKey contextKey = "facility_id"
	// TxKey carries an open pgx transaction for multi-statement operations.
	TxKey contextKey = "db_tx"
)

var facilityIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// FacilityMiddleware resolves the facility scope for a request and stores it
// in the request context. Every repository query is filtered by this value,
// so no operation can read or write across facility boundaries.
func FacilityMiddleware(defaultFacility string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			facilityID := extractFacilityID(c, defaultFacility)

			if !facilityIDPattern.MatchString(facilityID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid facility identifier")
			}

			ctx := WithFacility(c.Request().Context(), facilityID)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("facility_id", facilityID)

			return next(c)
		}
	}
}

func extractFacilityID(c echo.Context, defaultFacility string) string {
	// 1. Check X-Facility-ID header
	if fid := c.Request().Header.Get("X-Facility-ID"); fid != "" {
		return fid
	}

	// 2. Check query parameter
	if fid := c.QueryParam("facility_id"); fid != "" {
		return fid
	}

	return defaultFacility
}

// WithFacility returns a context scoped to the given facility. Non-HTTP
// callers (scheduler jobs, the ADT consumer) use this to establish scope.
func WithFacility(ctx context.Context, facilityID string) context.Context {
	return context.WithValue(ctx, FacilityIDKey, facilityID)
}

// FacilityFromContext retrieves the facility ID from context.
func FacilityFromContext(ctx context.Context) string {
	fid, _ := ctx.Value(FacilityIDKey).(string)
	return fid
}

// ValidFacilityID reports whether the identifier is safe to use as a scope.
func ValidFacilityID(facilityID string) bool {
	return facilityIDPattern.MatchString(facilityID)
}
