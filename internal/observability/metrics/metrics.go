// Package metrics defines the Prometheus collectors exported on /metrics.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "monitor"

// Metrics holds every collector the monitor exports.
type Metrics struct {
	registry *prometheus.Registry

	evaluations          *prometheus.CounterVec
	evaluationDuration   prometheus.Histogram
	stateConflicts       prometheus.Counter
	alertsFired          prometheus.Counter
	notificationsSent    prometheus.Counter
	notificationFailures prometheus.Counter
	acknowledgements     prometheus.Counter
	ingested             *prometheus.CounterVec
	devicesMarked        *prometheus.CounterVec
	taskRuns             *prometheus.CounterVec
}

// New creates collectors on a fresh registry that also carries the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry creates collectors registered on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_evaluations_total",
			Help:      "Alert state transitions computed, by outcome.",
		}, []string{"outcome"}),
		evaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "alert_dispatch_duration_seconds",
			Help:      "Time to evaluate every alert watching one field change.",
			Buckets:   prometheus.DefBuckets,
		}),
		stateConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_state_conflicts_total",
			Help:      "Compare-and-swap attempts rejected on a stale state version.",
		}),
		alertsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_fired_total",
			Help:      "Alerts that transitioned to active.",
		}),
		notificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Alert notifications delivered to a recipient.",
		}),
		notificationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Alert notifications that failed after all retries.",
		}),
		acknowledgements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_acknowledgements_total",
			Help:      "Alert logs accepted by a user.",
		}),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_ingested_total",
			Help:      "Telemetry payloads accepted, by source.",
		}, []string{"source"}),
		devicesMarked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offline_sweep_devices_total",
			Help:      "Devices whose offline flag was changed by the sweep, by new state.",
		}, []string{"state"}),
		taskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "background_task_runs_total",
			Help:      "Background task runs, by task and result.",
		}, []string{"task", "result"}),
	}
	reg.MustRegister(
		m.evaluations, m.evaluationDuration, m.stateConflicts, m.alertsFired,
		m.notificationsSent, m.notificationFailures, m.acknowledgements,
		m.ingested, m.devicesMarked, m.taskRuns,
	)
	return m
}

// Registry returns the registry backing these collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveEvaluation counts one state transition outcome.
func (m *Metrics) ObserveEvaluation(outcome string) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(outcome).Inc()
	if outcome == "fired" {
		m.alertsFired.Inc()
	}
}

// ObserveDispatch records how long one field change took to evaluate.
func (m *Metrics) ObserveDispatch(d time.Duration) {
	if m == nil {
		return
	}
	m.evaluationDuration.Observe(d.Seconds())
}

// StateConflict counts a stale compare-and-swap.
func (m *Metrics) StateConflict() {
	if m == nil {
		return
	}
	m.stateConflicts.Inc()
}

// NotificationSent counts a delivered notification.
func (m *Metrics) NotificationSent() {
	if m == nil {
		return
	}
	m.notificationsSent.Inc()
}

// NotificationFailed counts a notification that exhausted its retries.
func (m *Metrics) NotificationFailed() {
	if m == nil {
		return
	}
	m.notificationFailures.Inc()
}

// Acknowledged counts an accepted alert log.
func (m *Metrics) Acknowledged() {
	if m == nil {
		return
	}
	m.acknowledgements.Inc()
}

// Ingested counts a telemetry payload from source (webhook, mqtt).
func (m *Metrics) Ingested(source string) {
	if m == nil {
		return
	}
	m.ingested.WithLabelValues(source).Inc()
}

// DevicesMarked counts devices moved to state (offline, online).
func (m *Metrics) DevicesMarked(state string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.devicesMarked.WithLabelValues(state).Add(float64(n))
}

// TaskRun counts one background task run.
func (m *Metrics) TaskRun(task string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.taskRuns.WithLabelValues(task, result).Inc()
}
