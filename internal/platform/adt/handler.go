package adt

import (
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	proc *Processor
}

func NewHandler(proc *Processor) *Handler {
	return &Handler{proc: proc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/adt/events", h.Ingest)
}

// Ingest accepts one inbound ADT event, either as raw HL7v2 (content type
// x-application/hl7-v2+er7 or text/plain) or as the normalized JSON shape.
func (h *Handler) Ingest(c echo.Context) error {
	ctx := c.Request().Context()
	contentType := c.Request().Header.Get(echo.HeaderContentType)

	var ev *InboundEvent
	if strings.Contains(contentType, "hl7") || strings.HasPrefix(contentType, "text/") {
		raw, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		msg, err := Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		ev, err = EventFromMessage(msg)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	} else {
		ev = &InboundEvent{}
		if err := c.Bind(ev); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	if err := h.proc.Process(ctx, ev); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{
		"trigger":    ev.Trigger,
		"patient_id": ev.PatientID,
	})
}
