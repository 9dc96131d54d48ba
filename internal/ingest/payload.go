// Package ingest turns device telemetry payloads into stored readings and
// FieldChanged events for the alert engine.
package ingest

import (
	"strings"
	"time"

	"github.com/antonholmquist/jason"

	"github.com/originsmart/facility-monitor/internal/errors"
)

// Sample is one decoded telemetry reading. Nil readings were absent from the
// payload.
type Sample struct {
	DeviceOEM        string
	EventType        string
	Temperature      *float64
	RelativeHumidity *float64
	Pressure         *float64
	SignalStrength   *int
	// UpdateTime is the device-reported time; zero when the payload had none.
	UpdateTime time.Time
}

// HasReadings reports whether the sample carries at least one reading.
func (s *Sample) HasReadings() bool {
	return s.Temperature != nil || s.RelativeHumidity != nil || s.Pressure != nil
}

// ParseWebhook decodes a data-connector webhook body:
//
//	{"metadata": {"deviceId": "..."},
//	 "event": {"eventType": "humidity",
//	           "data": {"humidity": {"temperature": 21.5, "relativeHumidity": 40,
//	                                 "updateTime": "2026-03-10T10:00:00Z"}}}}
//
// Pressure sensors report under event.data.pressure instead.
func ParseWebhook(body []byte) (*Sample, error) {
	obj, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return nil, invalidPayload(err, "webhook")
	}

	oem, _ := obj.GetString("metadata", "deviceId")
	s := &Sample{DeviceOEM: strings.TrimSpace(oem)}
	s.EventType, _ = obj.GetString("event", "eventType")

	if humidity, err := obj.GetObject("event", "data", "humidity"); err == nil {
		s.Temperature = optionalFloat(humidity, "temperature")
		s.RelativeHumidity = optionalFloat(humidity, "relativeHumidity")
		if s.UpdateTime, err = optionalTime(humidity, "updateTime"); err != nil {
			return nil, invalidPayload(err, "webhook")
		}
	}
	if pressure, err := obj.GetObject("event", "data", "pressure"); err == nil {
		s.Pressure = optionalFloat(pressure, "pressure")
		if s.UpdateTime.IsZero() {
			if s.UpdateTime, err = optionalTime(pressure, "updateTime"); err != nil {
				return nil, invalidPayload(err, "webhook")
			}
		}
	}
	if rssi, err := obj.GetObject("event", "data", "networkStatus"); err == nil {
		if v, err := rssi.GetInt64("signalStrength"); err == nil {
			n := int(v)
			s.SignalStrength = &n
		}
	}

	return s, s.validate("webhook")
}

// ParseMessage decodes the flat JSON published on MQTT telemetry topics:
//
//	{"deviceId": "...", "temperature": 21.5, "relativeHumidity": 40,
//	 "pressure": 101.3, "updateTime": "2026-03-10T10:00:00Z"}
//
// An empty deviceId is taken from fallbackOEM, usually the topic segment.
func ParseMessage(body []byte, fallbackOEM string) (*Sample, error) {
	obj, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return nil, invalidPayload(err, "mqtt")
	}

	oem, _ := obj.GetString("deviceId")
	if strings.TrimSpace(oem) == "" {
		oem = fallbackOEM
	}
	s := &Sample{
		DeviceOEM:        strings.TrimSpace(oem),
		Temperature:      optionalFloat(obj, "temperature"),
		RelativeHumidity: optionalFloat(obj, "relativeHumidity"),
		Pressure:         optionalFloat(obj, "pressure"),
	}
	s.EventType, _ = obj.GetString("eventType")
	if v, err := obj.GetInt64("signalStrength"); err == nil {
		n := int(v)
		s.SignalStrength = &n
	}
	if s.UpdateTime, err = optionalTime(obj, "updateTime"); err != nil {
		return nil, invalidPayload(err, "mqtt")
	}

	return s, s.validate("mqtt")
}

func (s *Sample) validate(source string) error {
	if s.DeviceOEM == "" {
		return invalidPayload(errors.NewStd("device id is required"), source)
	}
	if !s.HasReadings() {
		return invalidPayload(errors.NewStd("payload carries no readings"), source)
	}
	return nil
}

func optionalFloat(obj *jason.Object, key string) *float64 {
	v, err := obj.GetFloat64(key)
	if err != nil {
		return nil
	}
	return &v
}

func optionalTime(obj *jason.Object, key string) (time.Time, error) {
	raw, err := obj.GetString(key)
	if err != nil || raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}

func invalidPayload(err error, source string) error {
	return errors.New(err).
		Component("ingest").
		Category(errors.CategoryValidation).
		Context("source", source).
		Build()
}
