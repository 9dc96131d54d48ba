package notification

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
)

// SendGridConfig configures SendGridMailer.
type SendGridConfig struct {
	APIKey     string
	TemplateID string
	BaseURL    string
	From       string
	FromName   string
	Timeout    time.Duration
}

// SendGridMailer sends alerts through a SendGrid dynamic template.
type SendGridMailer struct {
	client *resty.Client
	cfg    SendGridConfig
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridPersonalization struct {
	To                  []sendGridAddress `json:"to"`
	DynamicTemplateData map[string]any    `json:"dynamic_template_data"`
}

type sendGridRequest struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	TemplateID       string                    `json:"template_id"`
}

type sendGridErrorResponse struct {
	Errors []struct {
		Message string `json:"message"`
		Field   string `json:"field"`
	} `json:"errors"`
}

// NewSendGridMailer creates a SendGrid mailer.
func NewSendGridMailer(cfg SendGridConfig) *SendGridMailer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.sendgrid.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &SendGridMailer{client: client, cfg: cfg}
}

// Client exposes the HTTP client, e.g. for httpmock in tests.
func (m *SendGridMailer) Client() *resty.Client {
	return m.client
}

// Sender returns the formatted "Name <address>" sender.
func (m *SendGridMailer) Sender() string {
	if m.cfg.FromName == "" {
		return m.cfg.From
	}
	return fmt.Sprintf("%s <%s>", m.cfg.FromName, m.cfg.From)
}

// SendDeviceAlert posts one templated message. Client errors other than
// 429 are permanent and not retried.
func (m *SendGridMailer) SendDeviceAlert(ctx context.Context, alert DeviceAlert) error {
	body := sendGridRequest{
		Personalizations: []sendGridPersonalization{{
			To:                  []sendGridAddress{{Email: alert.To}},
			DynamicTemplateData: templateData(alert),
		}},
		From:       sendGridAddress{Email: m.cfg.From, Name: m.cfg.FromName},
		TemplateID: m.cfg.TemplateID,
	}

	var apiErr sendGridErrorResponse
	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(body).
		SetError(&apiErr).
		Post("/v3/mail/send")
	if err != nil {
		return fmt.Errorf("failed to call SendGrid: %w", err)
	}
	if resp.IsSuccess() {
		return nil
	}

	msg := resp.Status()
	if len(apiErr.Errors) > 0 {
		msg = apiErr.Errors[0].Message
	}
	sendErr := fmt.Errorf("SendGrid rejected alert to %s: %s (status %d)", alert.To, msg, resp.StatusCode())
	if resp.StatusCode() >= 400 && resp.StatusCode() < 500 && resp.StatusCode() != http.StatusTooManyRequests {
		return backoff.Permanent(sendErr)
	}
	return sendErr
}

func templateData(a DeviceAlert) map[string]any {
	data := map[string]any{
		"deviceName": a.DeviceName,
		"field":      a.FieldLabel,
		"value":      a.Value,
		"sign":       a.Sign,
		"unit":       a.Unit,
		"datetime":   a.Datetime,
		"lowerRange": nil,
		"upperRange": nil,
	}
	if a.LowerRange != nil {
		data["lowerRange"] = *a.LowerRange
	}
	if a.UpperRange != nil {
		data["upperRange"] = *a.UpperRange
	}
	return data
}
