package notification

import (
	"context"
	"fmt"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/originsmart/facility-monitor/internal/errors"
	"github.com/originsmart/facility-monitor/internal/logger"
)

// Sender is the subset of a shoutrrr router the mailer uses.
type Sender interface {
	Send(message string, params *types.Params) []error
}

// ShoutrrrMailer sends plain-text alerts through shoutrrr service URLs,
// typically smtp://. The recipient overrides the URL's toaddresses.
type ShoutrrrMailer struct {
	sender Sender
	log    logger.Logger
}

// NewShoutrrrMailer creates a mailer for the given service URLs.
func NewShoutrrrMailer(urls []string, log logger.Logger) (*ShoutrrrMailer, error) {
	if len(urls) == 0 {
		return nil, errors.Newf("shoutrrr mail provider needs at least one URL").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to create shoutrrr sender: %w", err)).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return NewShoutrrrMailerWithSender(sender, log), nil
}

// NewShoutrrrMailerWithSender wraps an existing sender.
func NewShoutrrrMailerWithSender(sender Sender, log logger.Logger) *ShoutrrrMailer {
	return &ShoutrrrMailer{sender: sender, log: log.Module("shoutrrr")}
}

// SendDeviceAlert renders the alert and sends it to every configured URL.
func (m *ShoutrrrMailer) SendDeviceAlert(ctx context.Context, alert DeviceAlert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, text, err := RenderDeviceAlert(alert)
	if err != nil {
		return err
	}
	params := types.Params{
		"subject":     alert.Subject(),
		"toaddresses": alert.To,
	}
	var failed []error
	for _, sendErr := range m.sender.Send(text, &params) {
		if sendErr != nil {
			failed = append(failed, sendErr)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to send alert to %s: %w", alert.To, errors.Join(failed...))
	}
	m.log.Debug("alert mail sent", logger.String("to", alert.To), logger.String("device", alert.DeviceName))
	return nil
}
