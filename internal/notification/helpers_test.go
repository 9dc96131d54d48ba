package notification

import (
	"io"

	"github.com/originsmart/facility-monitor/internal/logger"
)

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
}

func ptr[T any](v T) *T { return &v }

func sampleAlert() DeviceAlert {
	return DeviceAlert{
		To:         "ops@example.com",
		AlertName:  "Freezer warm",
		DeviceName: "Freezer 2",
		Field:      "temperature",
		FieldLabel: "Temperature",
		Value:      31,
		Unit:       "°C",
		Sign:       ">",
		Datetime:   "2026-03-10 10:05:01 UTC",
		UpperRange: ptr(30.0),
	}
}
