package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/originsmart/facility-monitor/internal/alerting"
	"github.com/originsmart/facility-monitor/internal/datastore/entities"
	"github.com/originsmart/facility-monitor/internal/datastore/repository"
	"github.com/originsmart/facility-monitor/internal/logger"
)

// initAlertRoutes registers alert definition endpoints.
func (c *Controller) initAlertRoutes() {
	alerts := c.Group.Group("/alerts")

	alerts.GET("", c.ListAlerts)
	alerts.POST("", c.CreateAlert)
	alerts.GET("/schema", c.GetAlertSchema)
	alerts.GET("/stats", c.GetAlertStats)
	alerts.GET("/:id", c.GetAlert)
	alerts.PATCH("/:id", c.UpdateAlert)
	alerts.DELETE("/:id", c.DeleteAlert)
	alerts.GET("/:id/logs/latest", c.GetLatestAlertLog)

	c.Group.GET("/devices/:id/alerts", c.ListDeviceAlerts)
}

// AlertRequest is the body of alert creation. Engine-owned state cannot be
// set by clients.
type AlertRequest struct {
	Name         string                `json:"name"`
	DeviceID     uint                  `json:"device_id"`
	Trigger      entities.AlertTrigger `json:"trigger"`
	ScheduleType string                `json:"schedule_type"`
	Weekdays     []string              `json:"weekdays"`
	Recipients   []string              `json:"recipients"`
	// Enabled defaults to true.
	Enabled *bool `json:"enabled"`
}

func (r AlertRequest) toEntity() *entities.Alert {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return &entities.Alert{
		Name:         r.Name,
		DeviceID:     r.DeviceID,
		Trigger:      r.Trigger,
		ScheduleType: r.ScheduleType,
		Weekdays:     r.Weekdays,
		Recipients:   r.Recipients,
		Enabled:      enabled,
	}
}

// GetAlertSchema describes fields, range types and schedules for clients.
func (c *Controller) GetAlertSchema(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, alerting.GetSchema())
}

// ListAlerts returns a page of alerts, optionally filtered by device, field,
// enabled and active.
func (c *Controller) ListAlerts(ctx echo.Context) error {
	deviceID, err := parseUintQuery(ctx, "device")
	if err != nil {
		return badRequest(ctx, "Invalid device")
	}
	limit, offset := parsePage(ctx)
	filter := repository.AlertFilter{
		DeviceID: deviceID,
		Field:    ctx.QueryParam("field"),
		Enabled:  parseBoolQuery(ctx, "enabled"),
		Active:   parseBoolQuery(ctx, "active"),
		Limit:    limit,
		Offset:   offset,
	}

	alerts, total, err := c.alerts.ListAlerts(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list alerts")
	}
	return ctx.JSON(http.StatusOK, pageResponse{Items: alerts, Total: total, Limit: limit, Offset: offset})
}

// ListDeviceAlerts returns every alert of one device.
func (c *Controller) ListDeviceAlerts(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return badRequest(ctx, "Invalid device ID")
	}
	alerts, err := c.alerts.ListAlertsByDevice(ctx.Request().Context(), id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list device alerts")
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// GetAlert returns a single alert with its device.
func (c *Controller) GetAlert(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return badRequest(ctx, "Invalid alert ID")
	}
	alert, err := c.alerts.GetAlert(ctx.Request().Context(), id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get alert")
	}
	return ctx.JSON(http.StatusOK, alert)
}

// CreateAlert validates and stores a new alert.
func (c *Controller) CreateAlert(ctx echo.Context) error {
	var req AlertRequest
	if err := ctx.Bind(&req); err != nil {
		return badRequest(ctx, "Invalid request body")
	}

	alert, err := c.alerts.CreateAlert(ctx.Request().Context(), req.toEntity())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to create alert")
	}

	c.logInfoIfEnabled("alert created via api",
		logger.Uint64("id", uint64(alert.ID)),
		logger.String("name", alert.Name))
	return ctx.JSON(http.StatusCreated, alert)
}

// UpdateAlert applies a partial update. The sustain timer restarts.
func (c *Controller) UpdateAlert(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return badRequest(ctx, "Invalid alert ID")
	}
	var patch alerting.AlertPatch
	if err := ctx.Bind(&patch); err != nil {
		return badRequest(ctx, "Invalid request body")
	}

	alert, err := c.alerts.UpdateAlert(ctx.Request().Context(), id, patch)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to update alert")
	}
	return ctx.JSON(http.StatusOK, alert)
}

// DeleteAlert removes an alert and its logs.
func (c *Controller) DeleteAlert(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return badRequest(ctx, "Invalid alert ID")
	}
	if err := c.alerts.DeleteAlert(ctx.Request().Context(), id); err != nil {
		return c.HandleError(ctx, err, "Failed to delete alert")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// GetAlertStats counts active and inactive alerts.
func (c *Controller) GetAlertStats(ctx echo.Context) error {
	stats, err := c.alerts.Stats(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get alert stats")
	}
	return ctx.JSON(http.StatusOK, stats)
}

// GetLatestAlertLog returns the most recent firing of an alert.
func (c *Controller) GetLatestAlertLog(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return badRequest(ctx, "Invalid alert ID")
	}
	entry, err := c.alerts.LatestLog(ctx.Request().Context(), id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get latest alert log")
	}
	return ctx.JSON(http.StatusOK, entry)
}
