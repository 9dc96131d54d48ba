// Package notification delivers alert notifications by email through
// shoutrrr URLs or the SendGrid template API, with retry and rate limiting.
package notification

import (
	"context"
	"fmt"
	"strconv"

	"github.com/originsmart/facility-monitor/internal/conf"
	"github.com/originsmart/facility-monitor/internal/errors"
	"github.com/originsmart/facility-monitor/internal/logger"
)

// DeviceAlert is one notification to one recipient.
type DeviceAlert struct {
	To        string
	AlertName string
	// DeviceName is shown to the recipient.
	DeviceName string
	// Field is the raw trigger field; FieldLabel its display name.
	Field      string
	FieldLabel string
	Value      float64
	Unit       string
	// Sign is the comparison of the range type, e.g. ">" or "between".
	Sign string
	// Datetime is the device's last update, already formatted in the
	// configured timezone.
	Datetime   string
	LowerRange *float64
	UpperRange *float64
}

// Subject returns the email subject line.
func (a DeviceAlert) Subject() string {
	return fmt.Sprintf("Alert: %s %s on %s", a.FieldLabel, formatReading(a.Value, a.Unit), a.DeviceName)
}

// Mailer sends a device alert to its recipient.
type Mailer interface {
	SendDeviceAlert(ctx context.Context, alert DeviceAlert) error
}

func formatReading(v float64, unit string) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if unit == "" {
		return s
	}
	if unit == "%" || unit == "°C" {
		return s + unit
	}
	return s + " " + unit
}

func formatBound(v *float64, unit string) string {
	if v == nil {
		return "-"
	}
	return formatReading(*v, unit)
}

// NewFromSettings builds the configured provider wrapped in retry and rate
// limiting.
func NewFromSettings(s conf.MailSettings, log logger.Logger) (Mailer, error) {
	var base Mailer
	switch s.Provider {
	case conf.MailProviderShoutrrr:
		m, err := NewShoutrrrMailer(s.URLs, log)
		if err != nil {
			return nil, err
		}
		base = m
	case conf.MailProviderSendGrid:
		base = NewSendGridMailer(SendGridConfig{
			APIKey:     s.SendGrid.APIKey,
			TemplateID: s.SendGrid.TemplateID,
			BaseURL:    s.SendGrid.BaseURL,
			From:       s.From,
			FromName:   s.FromName,
			Timeout:    s.SendGrid.Timeout.Std(),
		})
	case conf.MailProviderLog, "":
		base = NewLogMailer(log)
	default:
		return nil, errors.Newf("unknown mail provider %q", s.Provider).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}

	return NewRetryingMailer(base, RetryConfig{
		MaxAttempts:     s.Retry.MaxAttempts,
		InitialInterval: s.Retry.InitialInterval.Std(),
		MaxInterval:     s.Retry.MaxInterval.Std(),
		RatePerSecond:   s.RatePerSecond,
		Burst:           s.Burst,
	}, log), nil
}
