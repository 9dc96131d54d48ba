package notification

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/originsmart/facility-monitor/internal/logger"
)

// RetryConfig bounds delivery attempts and rate.
type RetryConfig struct {
	// MaxAttempts counts the first try. Values below 1 mean 1.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// RatePerSecond limits sends across all alerts. 0 disables limiting.
	RatePerSecond float64
	Burst         int
}

// RetryingMailer retries a Mailer with exponential backoff and limits the
// overall send rate.
type RetryingMailer struct {
	next    Mailer
	cfg     RetryConfig
	limiter *rate.Limiter
	log     logger.Logger
}

// NewRetryingMailer wraps next.
func NewRetryingMailer(next Mailer, cfg RetryConfig, log logger.Logger) *RetryingMailer {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		cfg.MaxInterval = cfg.InitialInterval
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &RetryingMailer{next: next, cfg: cfg, limiter: limiter, log: log.Module("mail")}
}

// SendDeviceAlert delivers alert, returning the last error once attempts
// are exhausted or the error is permanent.
func (r *RetryingMailer) SendDeviceAlert(ctx context.Context, alert DeviceAlert) error {
	attempt := 0
	op := func() error {
		attempt++
		if err := r.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		return r.next.SendDeviceAlert(ctx, alert)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.cfg.MaxAttempts-1)), ctx)

	return backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		r.log.Warn("alert mail attempt failed",
			logger.String("to", alert.To),
			logger.Int("attempt", attempt),
			logger.Duration("retry_in", wait),
			logger.Error(err))
	})
}
