package alerting

import (
	"context"
	"time"

	"github.com/originsmart/facility-monitor/internal/datastore/entities"
	"github.com/originsmart/facility-monitor/internal/datastore/repository"
	"github.com/originsmart/facility-monitor/internal/errors"
	"github.com/originsmart/facility-monitor/internal/logger"
	"github.com/originsmart/facility-monitor/internal/notification"
	"github.com/originsmart/facility-monitor/internal/observability/metrics"
)

const (
	// alertDatetimeLayout formats the device timestamp in notifications.
	alertDatetimeLayout = "2006-01-02 15:04:05 MST"
)

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithGatewayMetrics records deliveries and acknowledgements.
func WithGatewayMetrics(m *metrics.Metrics) GatewayOption {
	return func(g *Gateway) { g.metrics = m }
}

// WithGatewayClock overrides time.Now for acknowledgement timestamps.
func WithGatewayClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) { g.now = now }
}

// Gateway sends fired alerts to their recipients and accepts
// acknowledgements.
type Gateway struct {
	mailer  notification.Mailer
	logs    repository.AlertLogRepository
	loc     *time.Location
	now     func() time.Time
	metrics *metrics.Metrics
	log     logger.Logger
}

// NewGateway creates a Gateway. loc is the timezone notifications show.
func NewGateway(mailer notification.Mailer, logs repository.AlertLogRepository, loc *time.Location, log logger.Logger, opts ...GatewayOption) *Gateway {
	if loc == nil {
		loc = time.UTC
	}
	g := &Gateway{
		mailer: mailer,
		logs:   logs,
		loc:    loc,
		now:    time.Now,
		log:    log.Module("gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Fire mails every recipient of an alert whose log entry is already
// stored. Failures are logged and counted; the committed firing stands
// regardless.
func (g *Gateway) Fire(ctx context.Context, alert *entities.Alert, device *entities.Device, entry *entities.AlertLog) {
	var delivered int
	for _, to := range alert.Recipients {
		msg := g.deviceAlert(alert, device, entry.Field, entry.Value, to)
		if err := g.mailer.SendDeviceAlert(ctx, msg); err != nil {
			g.metrics.NotificationFailed()
			reported := errors.New(err).
				Component("alerting").
				Category(errors.CategoryNotification).
				Context("alert_id", alert.ID).
				Context("recipient", to).
				Build()
			g.log.Error("failed to send alert notification",
				logger.Uint64("alert_id", uint64(alert.ID)),
				logger.String("to", to),
				logger.Error(reported))
			continue
		}
		g.metrics.NotificationSent()
		delivered++
	}

	g.log.Info("alert fired",
		logger.Uint64("alert_id", uint64(alert.ID)),
		logger.Uint64("log_id", uint64(entry.ID)),
		logger.String("field", entry.Field),
		logger.Float64("value", entry.Value),
		logger.Int("recipients", len(alert.Recipients)),
		logger.Int("delivered", delivered))
}

func (g *Gateway) deviceAlert(alert *entities.Alert, device *entities.Device, field string, value float64, to string) notification.DeviceAlert {
	msg := notification.DeviceAlert{
		To:         to,
		AlertName:  alert.Name,
		Field:      field,
		FieldLabel: FieldLabel(field),
		Value:      value,
		Unit:       FieldUnit(field),
		Sign:       RangeSign(alert.Trigger.Range.Type),
		LowerRange: alert.Trigger.Range.Lower,
		UpperRange: alert.Trigger.Range.Upper,
	}
	if device != nil {
		msg.DeviceName = device.Name
		if device.LastUpdated != nil {
			msg.Datetime = device.LastUpdated.In(g.loc).Format(alertDatetimeLayout)
		}
	}
	if msg.Datetime == "" {
		msg.Datetime = g.now().In(g.loc).Format(alertDatetimeLayout)
	}
	return msg
}

// Acknowledge accepts a log on behalf of userID and clears its alert's
// active flag so the alert may fire again.
func (g *Gateway) Acknowledge(ctx context.Context, userID string, logID uint) (*entities.AlertLog, error) {
	entry, err := g.logs.AcceptLog(ctx, logID, userID, g.now())
	switch {
	case err == nil:
		g.metrics.Acknowledged()
		g.log.Info("alert acknowledged",
			logger.Uint64("log_id", uint64(logID)),
			logger.Uint64("alert_id", uint64(entry.AlertID)),
			logger.String("user_id", userID))
		return entry, nil
	case errors.Is(err, repository.ErrAlertLogNotFound):
		return nil, errors.New(err).
			Component("alerting").
			Category(errors.CategoryNotFound).
			Context("log_id", logID).
			Build()
	case errors.Is(err, repository.ErrAlertLogAccepted):
		return nil, errors.New(err).
			Component("alerting").
			Category(errors.CategoryConflict).
			Context("log_id", logID).
			Build()
	default:
		return nil, errors.New(err).
			Component("alerting").
			Category(errors.CategoryDatabase).
			Context("log_id", logID).
			Build()
	}
}
