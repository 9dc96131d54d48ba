package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/originsmart/facility-monitor/internal/alerting"
)

// initAlertLogRoutes registers alert log and acknowledgement endpoints.
func (c *Controller) initAlertLogRoutes() {
	logs := c.Group.Group("/alert-logs")

	logs.GET("", c.ListAlertLogs)
	logs.GET("/:id", c.GetAlertLog)
	logs.PATCH("/:id", c.UpdateAlertLogNotes)
	logs.POST("/:id/accept", c.AcceptAlertLog)
}

// ListAlertLogs returns a page of logs, newest first. Query params: alert,
// accepted, from, to (to includes its whole day), limit, offset.
func (c *Controller) ListAlertLogs(ctx echo.Context) error {
	alertID, err := parseUintQuery(ctx, "alert")
	if err != nil {
		return badRequest(ctx, "Invalid alert")
	}
	from, err := c.parseTimeQuery(ctx, "from")
	if err != nil {
		return badRequest(ctx, "Invalid from date")
	}
	to, err := c.parseTimeQuery(ctx, "to")
	if err != nil {
		return badRequest(ctx, "Invalid to date")
	}
	limit, offset := parsePage(ctx)

	logs, total, err := c.alerts.ListLogs(ctx.Request().Context(), alerting.LogQuery{
		AlertID:  alertID,
		Accepted: parseBoolQuery(ctx, "accepted"),
		From:     from,
		To:       to,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list alert logs")
	}
	return ctx.JSON(http.StatusOK, pageResponse{Items: logs, Total: total, Limit: limit, Offset: offset})
}

// GetAlertLog returns one log with its alert and device.
func (c *Controller) GetAlertLog(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return badRequest(ctx, "Invalid alert log ID")
	}
	entry, err := c.alerts.GetLog(ctx.Request().Context(), id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get alert log")
	}
	return ctx.JSON(http.StatusOK, entry)
}

// UpdateAlertLogNotes replaces the notes of a log.
func (c *Controller) UpdateAlertLogNotes(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return badRequest(ctx, "Invalid alert log ID")
	}
	var body struct {
		Notes *string `json:"notes"`
	}
	if err := ctx.Bind(&body); err != nil || body.Notes == nil {
		return badRequest(ctx, "Notes are required")
	}

	entry, err := c.alerts.UpdateLogNotes(ctx.Request().Context(), id, *body.Notes)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to update alert log")
	}
	return ctx.JSON(http.StatusOK, entry)
}

// AcceptAlertLog acknowledges a log on behalf of the X-User-ID user and
// lets its alert fire again. A second acknowledgement is a conflict.
func (c *Controller) AcceptAlertLog(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return badRequest(ctx, "Invalid alert log ID")
	}
	userID := strings.TrimSpace(ctx.Request().Header.Get(HeaderUserID))
	if userID == "" {
		return badRequest(ctx, HeaderUserID+" header is required")
	}

	entry, err := c.gateway.Acknowledge(ctx.Request().Context(), userID, id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to accept alert log")
	}
	return ctx.JSON(http.StatusOK, entry)
}
