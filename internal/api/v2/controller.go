// Package api implements the version 2 JSON API: alerts, alert logs,
// devices, telemetry events, the ingestion webhook and live device streams.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/originsmart/facility-monitor/internal/alerting"
	"github.com/originsmart/facility-monitor/internal/datastore/repository"
	"github.com/originsmart/facility-monitor/internal/errors"
	"github.com/originsmart/facility-monitor/internal/ingest"
	"github.com/originsmart/facility-monitor/internal/logger"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200

	// QueryValueTrue is the canonical true value of boolean query params.
	QueryValueTrue = "true"
	// HeaderUserID carries the acting user for acknowledgements.
	HeaderUserID = "X-User-ID"
)

// Deps are the services behind the API.
type Deps struct {
	Alerts      *alerting.Service
	Gateway     *alerting.Gateway
	Bus         *alerting.EventBus
	Invalidator alerting.Invalidator
	Devices     repository.DeviceRepository
	Telemetry   repository.TelemetryRepository
	Ingestor    *ingest.Ingestor
	// Location resolves date-only query parameters.
	Location *time.Location
}

// Controller owns the /api/v2 route group.
type Controller struct {
	Echo  *echo.Echo
	Group *echo.Group

	alerts      *alerting.Service
	gateway     *alerting.Gateway
	bus         *alerting.EventBus
	invalidator alerting.Invalidator
	devices     repository.DeviceRepository
	telemetry   repository.TelemetryRepository
	ingestor    *ingest.Ingestor
	loc         *time.Location
	now         func() time.Time
	logger      logger.Logger

	// ctx is cancelled by Shutdown to end long-lived streams.
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates the controller and registers its routes on e.
func New(e *echo.Echo, deps Deps, log logger.Logger) *Controller {
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		Echo:        e,
		Group:       e.Group("/api/v2"),
		alerts:      deps.Alerts,
		gateway:     deps.Gateway,
		bus:         deps.Bus,
		invalidator: deps.Invalidator,
		devices:     deps.Devices,
		telemetry:   deps.Telemetry,
		ingestor:    deps.Ingestor,
		loc:         loc,
		now:         time.Now,
		logger:      log.Module("api"),
		ctx:         ctx,
		cancel:      cancel,
	}
	c.initRoutes()
	return c
}

// Shutdown ends open device streams.
func (c *Controller) Shutdown() {
	c.cancel()
}

func (c *Controller) initRoutes() {
	c.initAlertRoutes()
	c.initAlertLogRoutes()
	c.initDeviceRoutes()
	c.initWebhookRoutes()
	c.initStreamRoutes()
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Code      int    `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// HandleError writes err as an ErrorResponse. The status follows the error
// category; server-side failures hide the error text from the client.
func (c *Controller) HandleError(ctx echo.Context, err error, message string) error {
	status := errors.HTTPStatus(err)
	resp := ErrorResponse{
		Error:     err.Error(),
		Message:   message,
		Code:      status,
		RequestID: ctx.Response().Header().Get(echo.HeaderXRequestID),
	}
	if status >= http.StatusInternalServerError {
		resp.Error = http.StatusText(status)
		c.logErrorIfEnabled(message,
			logger.String("path", ctx.Path()),
			logger.String("request_id", resp.RequestID),
			logger.Error(err))
	}
	return ctx.JSON(status, resp)
}

// badRequest writes a 400 with message as both error and message.
func badRequest(ctx echo.Context, message string) error {
	return ctx.JSON(http.StatusBadRequest, ErrorResponse{
		Error:     message,
		Message:   message,
		Code:      http.StatusBadRequest,
		RequestID: ctx.Response().Header().Get(echo.HeaderXRequestID),
	})
}

func (c *Controller) logErrorIfEnabled(msg string, fields ...logger.Field) {
	if c.logger != nil {
		c.logger.Error(msg, fields...)
	}
}

func (c *Controller) logInfoIfEnabled(msg string, fields ...logger.Field) {
	if c.logger != nil {
		c.logger.Info(msg, fields...)
	}
}

func (c *Controller) logDebugIfEnabled(msg string, fields ...logger.Field) {
	if c.logger != nil {
		c.logger.Debug(msg, fields...)
	}
}

// parseUintParam parses a uint route parameter.
func parseUintParam(ctx echo.Context, name string) (uint, error) {
	v, err := strconv.ParseUint(ctx.Param(name), 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(v), nil
}

// parseUintQuery parses an optional uint query parameter; absent is 0.
func parseUintQuery(ctx echo.Context, name string) (uint, error) {
	raw := ctx.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(v), nil
}

// parseBoolQuery parses an optional boolean query parameter.
func parseBoolQuery(ctx echo.Context, name string) *bool {
	raw := ctx.QueryParam(name)
	if raw == "" {
		return nil
	}
	v := raw == QueryValueTrue || raw == "1"
	return &v
}

// parsePage reads limit and offset. Invalid values fall back to defaults and
// limit is capped.
func parsePage(ctx echo.Context) (limit, offset int) {
	limit = defaultPageLimit
	if v, err := strconv.Atoi(ctx.QueryParam("limit")); err == nil && v > 0 {
		limit = min(v, maxPageLimit)
	}
	if v, err := strconv.Atoi(ctx.QueryParam("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

// parseTimeQuery accepts RFC 3339 timestamps or YYYY-MM-DD dates, the
// latter at midnight in the controller timezone.
func (c *Controller) parseTimeQuery(ctx echo.Context, name string) (*time.Time, error) {
	raw := ctx.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, raw, c.loc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// pageResponse is the envelope of list endpoints.
type pageResponse struct {
	Items  any   `json:"items"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}
