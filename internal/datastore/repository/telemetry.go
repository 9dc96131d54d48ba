package repository

import (
	"context"
	"time"

	"github.com/originsmart/facility-monitor/internal/datastore/entities"
)

// TelemetryRepository stores raw ingestion events.
type TelemetryRepository interface {
	SaveEvent(ctx context.Context, event *entities.TelemetryEvent) error
	ListEvents(ctx context.Context, filter TelemetryFilter) ([]entities.TelemetryEvent, int64, error)
	DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error)
}

// TelemetryFilter controls event listing queries. From and To are inclusive
// bounds on the device-reported update time.
type TelemetryFilter struct {
	DeviceOEM string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}
