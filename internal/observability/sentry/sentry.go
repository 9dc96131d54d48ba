// Package sentry forwards server-side errors to Sentry.
package sentry

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/originsmart/facility-monitor/internal/conf"
	"github.com/originsmart/facility-monitor/internal/errors"
)

// flushTimeout bounds how long Flush waits for queued events.
const flushTimeout = 2 * time.Second

// Option adjusts the client options before the client is created.
type Option func(*sentry.ClientOptions)

// Reporter captures enhanced errors on its own hub.
type Reporter struct {
	hub *sentry.Hub
}

// New creates a Reporter. It returns nil, nil when no DSN is configured.
func New(s conf.SentrySettings, release string, opts ...Option) (*Reporter, error) {
	if s.DSN == "" {
		return nil, nil
	}
	options := sentry.ClientOptions{
		Dsn:         s.DSN,
		Environment: s.Environment,
		Release:     release,
		SampleRate:  s.SampleRate,
	}
	for _, opt := range opts {
		opt(&options)
	}
	client, err := sentry.NewClient(options)
	if err != nil {
		return nil, errors.New(err).
			Component("sentry").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return &Reporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// Report sends one error with its component, category and context.
// It matches errors.Reporter.
func (r *Reporter) Report(ee *errors.EnhancedError) {
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.GetComponent())
		scope.SetTag("category", string(ee.GetCategory()))
		if ctx := ee.GetContext(); len(ctx) > 0 {
			scope.SetContext("error", sentry.Context(ctx))
		}
		r.hub.CaptureException(ee.Err)
	})
}

// Install registers the reporter for every built server-side error.
func (r *Reporter) Install() {
	errors.SetReporter(r.Report)
}

// Flush waits for queued events and detaches the reporter.
func (r *Reporter) Flush() {
	errors.SetReporter(nil)
	r.hub.Flush(flushTimeout)
}
