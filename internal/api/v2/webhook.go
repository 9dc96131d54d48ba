package api

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/originsmart/facility-monitor/internal/ingest"
	"github.com/originsmart/facility-monitor/internal/logger"
)

// maxWebhookBody caps the accepted payload size.
const maxWebhookBody = 1 << 20

// initWebhookRoutes registers the data-connector ingestion endpoints.
func (c *Controller) initWebhookRoutes() {
	webhook := c.Group.Group("/webhook")

	webhook.POST("/receive-events", c.ReceiveEvents)
	webhook.POST("/receive-pressure-events", c.ReceiveEvents)
}

// ReceiveEvents ingests one data-connector event, stores the readings and
// hands them to the alert engine.
func (c *Controller) ReceiveEvents(ctx echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(ctx.Request().Body, maxWebhookBody))
	if err != nil {
		return badRequest(ctx, "Failed to read request body")
	}

	sample, err := ingest.ParseWebhook(body)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid event payload")
	}

	res, err := c.ingestor.Ingest(ctx.Request().Context(), ingest.SourceWebhook, sample)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to ingest event")
	}

	c.logDebugIfEnabled("webhook event received",
		logger.String("device_oem", sample.DeviceOEM),
		logger.String("event_type", sample.EventType))
	return ctx.JSON(http.StatusOK, res)
}
