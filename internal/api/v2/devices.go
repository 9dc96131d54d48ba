package api

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/originsmart/facility-monitor/internal/alerting"
	"github.com/originsmart/facility-monitor/internal/datastore/entities"
	"github.com/originsmart/facility-monitor/internal/datastore/repository"
	"github.com/originsmart/facility-monitor/internal/errors"
	"github.com/originsmart/facility-monitor/internal/logger"
)

// defaultEventWindow is the telemetry history returned when no range is given.
const defaultEventWindow = 7 * 24 * time.Hour

// initDeviceRoutes registers device and telemetry history endpoints.
func (c *Controller) initDeviceRoutes() {
	devices := c.Group.Group("/devices")

	devices.GET("", c.ListDevices)
	devices.POST("", c.CreateDevice)
	devices.GET("/stats", c.GetDeviceStats)
	devices.GET("/:id", c.GetDevice)
	devices.DELETE("/:id", c.DeleteDevice)
	devices.GET("/:id/events", c.ListDeviceEvents)
}

// DeviceRequest is the body of device registration.
type DeviceRequest struct {
	OEM      string                  `json:"oem"`
	Slug     *string                 `json:"slug"`
	Name     string                  `json:"name"`
	Type     string                  `json:"type"`
	Location entities.DeviceLocation `json:"location"`
}

func (r DeviceRequest) validate() error {
	var problems []string
	if strings.TrimSpace(r.OEM) == "" {
		problems = append(problems, "oem is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		problems = append(problems, "name is required")
	}
	if !slices.Contains(alerting.DeviceTypes, r.Type) {
		problems = append(problems, "type must be one of "+strings.Join(alerting.DeviceTypes, ", "))
	}
	if len(problems) == 0 {
		return nil
	}
	return errors.Newf("invalid device: %s", strings.Join(problems, "; ")).
		Component("api").
		Category(errors.CategoryValidation).
		Build()
}

// ListDevices returns a page of devices, optionally filtered by type.
func (c *Controller) ListDevices(ctx echo.Context) error {
	limit, offset := parsePage(ctx)
	devices, total, err := c.devices.ListDevices(ctx.Request().Context(), repository.DeviceFilter{
		Type:   ctx.QueryParam("type"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return c.HandleError(ctx, databaseError(err), "Failed to list devices")
	}
	return ctx.JSON(http.StatusOK, pageResponse{Items: devices, Total: total, Limit: limit, Offset: offset})
}

// GetDevice returns one device with its latest readings.
func (c *Controller) GetDevice(ctx echo.Context) error {
	device, err := c.loadDevice(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get device")
	}
	return ctx.JSON(http.StatusOK, device)
}

// CreateDevice registers a device. A duplicate OEM is a conflict.
func (c *Controller) CreateDevice(ctx echo.Context) error {
	var req DeviceRequest
	if err := ctx.Bind(&req); err != nil {
		return badRequest(ctx, "Invalid request body")
	}
	if err := req.validate(); err != nil {
		return c.HandleError(ctx, err, "Invalid device")
	}

	reqCtx := ctx.Request().Context()
	oem := strings.TrimSpace(req.OEM)
	if _, err := c.devices.GetDeviceByOEM(reqCtx, oem); err == nil {
		return c.HandleError(ctx, errors.Newf("device with oem %q already exists", oem).
			Component("api").
			Category(errors.CategoryConflict).
			Build(), "Failed to create device")
	} else if !errors.Is(err, repository.ErrDeviceNotFound) {
		return c.HandleError(ctx, databaseError(err), "Failed to create device")
	}

	device := &entities.Device{
		OEM:      oem,
		Slug:     req.Slug,
		Name:     strings.TrimSpace(req.Name),
		Type:     req.Type,
		Location: req.Location,
	}
	if err := c.devices.CreateDevice(reqCtx, device); err != nil {
		return c.HandleError(ctx, databaseError(err), "Failed to create device")
	}

	c.logInfoIfEnabled("device created",
		logger.Uint64("id", uint64(device.ID)),
		logger.String("oem", device.OEM))
	return ctx.JSON(http.StatusCreated, device)
}

// DeleteDevice removes a device; its alerts and their logs cascade.
func (c *Controller) DeleteDevice(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return badRequest(ctx, "Invalid device ID")
	}
	if err := c.devices.DeleteDevice(ctx.Request().Context(), id); err != nil {
		return c.HandleError(ctx, deviceError(err, id), "Failed to delete device")
	}
	if c.invalidator != nil {
		c.invalidator.InvalidateDevice(id)
	}
	return ctx.NoContent(http.StatusNoContent)
}

// GetDeviceStats returns fleet-wide aggregates.
func (c *Controller) GetDeviceStats(ctx echo.Context) error {
	stats, err := c.devices.GetStats(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, databaseError(err), "Failed to get device stats")
	}
	return ctx.JSON(http.StatusOK, stats)
}

// ListDeviceEvents returns raw telemetry of a device, newest first. Without
// from and to the last seven days are returned; to includes its whole day.
func (c *Controller) ListDeviceEvents(ctx echo.Context) error {
	device, err := c.loadDevice(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get device")
	}
	from, err := c.parseTimeQuery(ctx, "from")
	if err != nil {
		return badRequest(ctx, "Invalid from date")
	}
	to, err := c.parseTimeQuery(ctx, "to")
	if err != nil {
		return badRequest(ctx, "Invalid to date")
	}
	if from == nil && to == nil {
		now := c.now()
		start := now.Add(-defaultEventWindow)
		from, to = &start, &now
	} else if to != nil {
		end := alerting.EndOfDay(*to, c.loc)
		to = &end
	}
	limit, offset := parsePage(ctx)

	events, total, err := c.telemetry.ListEvents(ctx.Request().Context(), repository.TelemetryFilter{
		DeviceOEM: device.OEM,
		From:      from,
		To:        to,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return c.HandleError(ctx, databaseError(err), "Failed to list device events")
	}
	return ctx.JSON(http.StatusOK, pageResponse{Items: events, Total: total, Limit: limit, Offset: offset})
}

// loadDevice resolves the :id route parameter to a device.
func (c *Controller) loadDevice(ctx echo.Context) (*entities.Device, error) {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return nil, errors.Newf("invalid device id %q", ctx.Param("id")).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	device, err := c.devices.GetDevice(ctx.Request().Context(), id)
	if err != nil {
		return nil, deviceError(err, id)
	}
	return device, nil
}

func deviceError(err error, id uint) error {
	if errors.Is(err, repository.ErrDeviceNotFound) {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNotFound).
			Context("device_id", id).
			Build()
	}
	return databaseError(err)
}

func databaseError(err error) error {
	return errors.New(err).
		Component("api").
		Category(errors.CategoryDatabase).
		Build()
}
