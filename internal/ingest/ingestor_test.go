package ingest

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/originsmart/facility-monitor/internal/alerting"
	"github.com/originsmart/facility-monitor/internal/datastore/entities"
	"github.com/originsmart/facility-monitor/internal/datastore/repository"
	"github.com/originsmart/facility-monitor/internal/errors"
	"github.com/originsmart/facility-monitor/internal/logger"
	"github.com/originsmart/facility-monitor/internal/observability/metrics"
)

func ptr[T any](v T) *T { return &v }

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=ON", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gorm_logger.Default.LogMode(gorm_logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&entities.Device{}, &entities.TelemetryEvent{}))
	return db
}

// recordingBus captures published events and optionally fails.
type recordingBus struct {
	mu     sync.Mutex
	events []alerting.FieldChanged
	err    error
}

func (b *recordingBus) Publish(_ context.Context, ev alerting.FieldChanged) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.events = append(b.events, ev)
	return nil
}

func (b *recordingBus) Events() []alerting.FieldChanged {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]alerting.FieldChanged(nil), b.events...)
}

type ingestFixture struct {
	devices   repository.DeviceRepository
	telemetry repository.TelemetryRepository
	bus       *recordingBus
	metrics   *metrics.Metrics
	ingestor  *Ingestor
	device    *entities.Device
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()
	db := setupTestDB(t)
	f := &ingestFixture{
		devices:   repository.NewDeviceRepository(db),
		telemetry: repository.NewTelemetryRepository(db),
		bus:       &recordingBus{},
		metrics:   metrics.New(),
	}
	f.ingestor = NewIngestor(f.devices, f.telemetry, f.bus, f.metrics,
		logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil))
	f.device = &entities.Device{OEM: "oem-1", Name: "Freezer 2", Type: alerting.DeviceTypeCold, Temperature: ptr(-18.0)}
	require.NoError(t, f.devices.CreateDevice(t.Context(), f.device))
	return f
}

func TestIngest_StoresAndPublishes(t *testing.T) {
	t.Parallel()
	f := newIngestFixture(t)
	at := time.Date(2026, 3, 10, 10, 5, 1, 0, time.UTC)

	res, err := f.ingestor.Ingest(t.Context(), SourceWebhook, &Sample{
		DeviceOEM:        "oem-1",
		EventType:        "humidity",
		Temperature:      ptr(31.0),
		RelativeHumidity: ptr(40.0),
		UpdateTime:       at,
	})
	require.NoError(t, err)
	assert.Equal(t, f.device.ID, res.DeviceID)
	assert.NotZero(t, res.EventID)
	assert.Equal(t, []string{alerting.FieldTemperature, alerting.FieldRelativeHumidity}, res.Fields)

	device, err := f.devices.GetDevice(t.Context(), f.device.ID)
	require.NoError(t, err)
	require.NotNil(t, device.Temperature)
	assert.InDelta(t, 31.0, *device.Temperature, 1e-9)
	require.NotNil(t, device.LastUpdated)
	assert.True(t, device.LastUpdated.Equal(at))

	events, total, err := f.telemetry.ListEvents(t.Context(), repository.TelemetryFilter{DeviceOEM: "oem-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "humidity", events[0].EventType)

	published := f.bus.Events()
	require.Len(t, published, 2)
	assert.Equal(t, alerting.FieldTemperature, published[0].Field)
	require.NotNil(t, published[0].OldValue)
	assert.InDelta(t, -18.0, *published[0].OldValue, 1e-9)
	assert.InDelta(t, 31.0, published[0].NewValue, 1e-9)
	assert.True(t, published[0].At.Equal(at))
	assert.Equal(t, alerting.FieldRelativeHumidity, published[1].Field)
	assert.Nil(t, published[1].OldValue, "device had no humidity reading")

	expected := `
# HELP monitor_telemetry_ingested_total Telemetry payloads accepted, by source.
# TYPE monitor_telemetry_ingested_total counter
monitor_telemetry_ingested_total{source="webhook"} 1
`
	require.NoError(t, promtestutil.GatherAndCompare(f.metrics.Registry(), strings.NewReader(expected),
		"monitor_telemetry_ingested_total"))
}

func TestIngest_EqualValueStillPublished(t *testing.T) {
	t.Parallel()
	f := newIngestFixture(t)

	_, err := f.ingestor.Ingest(t.Context(), SourceMQTT, &Sample{DeviceOEM: "oem-1", Temperature: ptr(-18.0)})
	require.NoError(t, err)

	published := f.bus.Events()
	require.Len(t, published, 1)
	assert.InDelta(t, -18.0, published[0].NewValue, 1e-9)
}

func TestIngest_MissingUpdateTimeUsesClock(t *testing.T) {
	t.Parallel()
	f := newIngestFixture(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	f.ingestor.now = func() time.Time { return now }

	_, err := f.ingestor.Ingest(t.Context(), SourceMQTT, &Sample{DeviceOEM: "oem-1", Temperature: ptr(-17.0)})
	require.NoError(t, err)

	published := f.bus.Events()
	require.Len(t, published, 1)
	assert.True(t, published[0].At.Equal(now))
}

func TestIngest_UnknownDevice(t *testing.T) {
	t.Parallel()
	f := newIngestFixture(t)

	_, err := f.ingestor.Ingest(t.Context(), SourceWebhook, &Sample{DeviceOEM: "nope", Temperature: ptr(1.0)})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))
	assert.Empty(t, f.bus.Events())

	_, total, err := f.telemetry.ListEvents(t.Context(), repository.TelemetryFilter{DeviceOEM: "nope"})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestIngest_PublishFailureKeepsReading(t *testing.T) {
	t.Parallel()
	f := newIngestFixture(t)
	f.bus.err = alerting.ErrBusStopped

	res, err := f.ingestor.Ingest(t.Context(), SourceWebhook, &Sample{DeviceOEM: "oem-1", Temperature: ptr(5.0)})
	require.Error(t, err)
	require.ErrorIs(t, err, alerting.ErrBusStopped)
	require.NotNil(t, res)
	assert.Empty(t, res.Fields)

	device, err := f.devices.GetDevice(t.Context(), f.device.ID)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, *device.Temperature, 1e-9)
}

func TestIngest_ThroughEventBus(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	devices := repository.NewDeviceRepository(db)
	device := &entities.Device{OEM: "bus-1", Name: "Lab", Type: alerting.DeviceTypeHumidity}
	require.NoError(t, devices.CreateDevice(t.Context(), device))

	bus := alerting.NewEventBus(nil)
	var mu sync.Mutex
	var got []alerting.FieldChanged
	bus.Subscribe(func(ev alerting.FieldChanged) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	})

	ing := NewIngestor(devices, repository.NewTelemetryRepository(db), bus, nil,
		logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil))
	_, err := ing.Ingest(t.Context(), SourceWebhook, &Sample{DeviceOEM: "bus-1", RelativeHumidity: ptr(61.0)})
	require.NoError(t, err)

	// Stop drains the queue before returning.
	bus.Stop()
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, device.ID, got[0].DeviceID)
	assert.Equal(t, "bus-1", got[0].DeviceOEM)
}
