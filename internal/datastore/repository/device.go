package repository

import (
	"context"
	"time"

	"github.com/originsmart/facility-monitor/internal/datastore/entities"
)

// Device alert-presence flag columns accepted by UpdateAlertStatus.
const (
	ColumnTemperatureAlert = "temperature_alert"
	ColumnHumidityAlert    = "humidity_alert"
	ColumnPressureAlert    = "pressure_alert"
)

// DeviceRepository handles devices, their readings and alert-presence flags.
type DeviceRepository interface {
	ListDevices(ctx context.Context, filter DeviceFilter) ([]entities.Device, int64, error)
	GetDevice(ctx context.Context, id uint) (*entities.Device, error)
	GetDeviceByOEM(ctx context.Context, oem string) (*entities.Device, error)
	CreateDevice(ctx context.Context, device *entities.Device) error
	DeleteDevice(ctx context.Context, id uint) error

	// UpdateReadings stores non-nil readings, stamps last_updated and marks
	// the device online.
	UpdateReadings(ctx context.Context, id uint, readings Readings) error
	// UpdateAlertStatus sets alert-presence flags keyed by column name.
	UpdateAlertStatus(ctx context.Context, id uint, flags map[string]bool) error
	// ClaimAlertFlag sets one flag only if it is currently false. It returns
	// false when the flag was already set and ErrDeviceNotFound for an
	// unknown device.
	ClaimAlertFlag(ctx context.Context, id uint, column string) (bool, error)

	// Offline sweep
	MarkOffline(ctx context.Context, staleBefore time.Time) (int64, error)
	MarkOnline(ctx context.Context, staleBefore time.Time) (int64, error)

	GetStats(ctx context.Context) (*entities.DeviceStats, error)
}

// DeviceFilter controls device listing queries.
type DeviceFilter struct {
	Type   string
	Limit  int
	Offset int
}

// Readings is one telemetry sample. Nil fields are left untouched.
type Readings struct {
	Temperature      *float64
	RelativeHumidity *float64
	Pressure         *float64
	SignalStrength   *int
	UpdatedAt        time.Time
}
