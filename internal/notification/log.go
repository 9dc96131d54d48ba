package notification

import (
	"context"

	"github.com/originsmart/facility-monitor/internal/logger"
)

// LogMailer writes alerts to the log instead of sending them. Used in
// development and when no provider is configured.
type LogMailer struct {
	log logger.Logger
}

// NewLogMailer creates a LogMailer.
func NewLogMailer(log logger.Logger) *LogMailer {
	return &LogMailer{log: log.Module("mail")}
}

// SendDeviceAlert logs the alert.
func (m *LogMailer) SendDeviceAlert(_ context.Context, alert DeviceAlert) error {
	m.log.Info("device alert",
		logger.String("to", alert.To),
		logger.String("subject", alert.Subject()),
		logger.String("field", alert.Field),
		logger.Float64("value", alert.Value),
		logger.String("datetime", alert.Datetime))
	return nil
}
