package ingest

import (
	"context"
	"time"

	"github.com/originsmart/facility-monitor/internal/alerting"
	"github.com/originsmart/facility-monitor/internal/datastore/entities"
	"github.com/originsmart/facility-monitor/internal/datastore/repository"
	"github.com/originsmart/facility-monitor/internal/errors"
	"github.com/originsmart/facility-monitor/internal/logger"
	"github.com/originsmart/facility-monitor/internal/observability/metrics"
)

// Ingestion sources, used as the metrics label.
const (
	SourceWebhook = "webhook"
	SourceMQTT    = "mqtt"
)

// Publisher delivers FieldChanged events to the alert engine.
type Publisher interface {
	Publish(ctx context.Context, event alerting.FieldChanged) error
}

// Result describes one accepted sample.
type Result struct {
	DeviceID uint     `json:"device_id"`
	EventID  uint     `json:"event_id"`
	Fields   []string `json:"fields"`
}

// Ingestor stores samples and announces every written field.
type Ingestor struct {
	devices   repository.DeviceRepository
	telemetry repository.TelemetryRepository
	bus       Publisher
	metrics   *metrics.Metrics
	now       func() time.Time
	log       logger.Logger
}

// NewIngestor creates an Ingestor. m may be nil.
func NewIngestor(
	devices repository.DeviceRepository,
	telemetry repository.TelemetryRepository,
	bus Publisher,
	m *metrics.Metrics,
	log logger.Logger,
) *Ingestor {
	return &Ingestor{
		devices:   devices,
		telemetry: telemetry,
		bus:       bus,
		metrics:   m,
		now:       time.Now,
		log:       log.Module("ingest"),
	}
}

// Ingest records the raw event, updates the device readings and publishes
// one FieldChanged per reading in the sample. Equal values are published
// too: a sustained condition is timed against live readings, and the
// engine ignores duplicates.
func (i *Ingestor) Ingest(ctx context.Context, source string, s *Sample) (*Result, error) {
	device, err := i.devices.GetDeviceByOEM(ctx, s.DeviceOEM)
	if err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			return nil, errors.New(err).
				Component("ingest").
				Category(errors.CategoryNotFound).
				Context("device_oem", s.DeviceOEM).
				Build()
		}
		return nil, storeError(err, s.DeviceOEM)
	}

	at := s.UpdateTime
	if at.IsZero() {
		at = i.now()
	}

	event := &entities.TelemetryEvent{
		DeviceOEM:        s.DeviceOEM,
		EventType:        s.EventType,
		Temperature:      s.Temperature,
		RelativeHumidity: s.RelativeHumidity,
		Pressure:         s.Pressure,
		UpdateTime:       at,
	}
	if err := i.telemetry.SaveEvent(ctx, event); err != nil {
		return nil, storeError(err, s.DeviceOEM)
	}

	err = i.devices.UpdateReadings(ctx, device.ID, repository.Readings{
		Temperature:      s.Temperature,
		RelativeHumidity: s.RelativeHumidity,
		Pressure:         s.Pressure,
		SignalStrength:   s.SignalStrength,
		UpdatedAt:        at,
	})
	if err != nil {
		return nil, storeError(err, s.DeviceOEM)
	}
	i.metrics.Ingested(source)

	res := &Result{DeviceID: device.ID, EventID: event.ID}
	for _, c := range changes(device, s) {
		ev := alerting.FieldChanged{
			DeviceID:  device.ID,
			DeviceOEM: device.OEM,
			Field:     c.field,
			OldValue:  c.old,
			NewValue:  c.value,
			At:        at,
		}
		if err := i.bus.Publish(ctx, ev); err != nil {
			// The reading is stored; only the evaluation is lost.
			return res, errors.New(err).
				Component("ingest").
				Category(errors.CategoryInternal).
				Context("device_id", device.ID).
				Context("field", c.field).
				Build()
		}
		res.Fields = append(res.Fields, c.field)
	}

	i.log.Debug("telemetry ingested",
		logger.String("source", source),
		logger.String("device_oem", s.DeviceOEM),
		logger.Uint64("device_id", uint64(device.ID)),
		logger.Int("fields", len(res.Fields)))
	return res, nil
}

type change struct {
	field string
	old   *float64
	value float64
}

// changes pairs each reading of s with the device's previous value.
func changes(device *entities.Device, s *Sample) []change {
	var out []change
	add := func(field string, old, value *float64) {
		if value == nil {
			return
		}
		c := change{field: field, value: *value}
		if old != nil {
			prev := *old
			c.old = &prev
		}
		out = append(out, c)
	}
	add(alerting.FieldTemperature, device.Temperature, s.Temperature)
	add(alerting.FieldRelativeHumidity, device.RelativeHumidity, s.RelativeHumidity)
	add(alerting.FieldPressure, device.Pressure, s.Pressure)
	return out
}

func storeError(err error, oem string) error {
	return errors.New(err).
		Component("ingest").
		Category(errors.CategoryDatabase).
		Context("device_oem", oem).
		Build()
}
