package alerting

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/originsmart/facility-monitor/internal/datastore/entities"
	"github.com/originsmart/facility-monitor/internal/datastore/repository"
	"github.com/originsmart/facility-monitor/internal/errors"
	"github.com/originsmart/facility-monitor/internal/logger"
	"github.com/originsmart/facility-monitor/internal/notification"
)

func ptr[T any](v T) *T { return &v }

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
}

// setupTestDB creates an in-memory SQLite database private to the test.
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

	require.NoError(t, db.AutoMigrate(&entities.Device{}, &entities.Alert{}, &entities.AlertLog{}, &entities.TelemetryEvent{}))
	return db
}

// testClock is a settable clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{now: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// fakeMailer records sent alerts and optionally fails.
type fakeMailer struct {
	mu   sync.Mutex
	sent []notification.DeviceAlert
	err  error
}

func (m *fakeMailer) SendDeviceAlert(_ context.Context, a notification.DeviceAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, a)
	return nil
}

func (m *fakeMailer) Sent() []notification.DeviceAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notification.DeviceAlert(nil), m.sent...)
}

// fixture is a sqlite-backed engine with a fake mailer.
type fixture struct {
	db      *gorm.DB
	alerts  repository.AlertRepository
	devices repository.DeviceRepository
	logs    repository.AlertLogRepository
	mailer  *fakeMailer
	clock   *testClock
	gateway *Gateway
	engine  *Engine
	service *Service
}

func newFixture(t *testing.T, cfg Config, start time.Time) *fixture {
	t.Helper()
	db := setupTestDB(t)
	f := &fixture{
		db:      db,
		alerts:  repository.NewAlertRepository(db),
		devices: repository.NewDeviceRepository(db),
		logs:    repository.NewAlertLogRepository(db),
		mailer:  &fakeMailer{},
		clock:   newTestClock(start),
	}
	f.gateway = NewGateway(f.mailer, f.logs, cfg.Location, testLogger(), WithGatewayClock(f.clock.Now))
	f.engine = NewEngine(f.alerts, f.devices, f.logs, f.gateway, cfg, testLogger(), WithClock(f.clock.Now))
	f.service = NewService(f.alerts, f.devices, f.logs, f.engine, cfg.Location, testLogger())
	return f
}

// evaluate feeds one reading to the engine and waits for any notification
// it started.
func (f *fixture) evaluate(t *testing.T, deviceID uint, field string, value float64) {
	t.Helper()
	require.NoError(t, f.engine.OnFieldUpdated(t.Context(), deviceID, field, value))
	f.engine.WaitForNotifications()
}

func (f *fixture) createDevice(t *testing.T, oem, deviceType string) *entities.Device {
	t.Helper()
	device := &entities.Device{OEM: oem, Name: "Device " + oem, Type: deviceType}
	require.NoError(t, f.devices.CreateDevice(t.Context(), device))
	return device
}

func (f *fixture) createAlert(t *testing.T, alert *entities.Alert) *entities.Alert {
	t.Helper()
	created, err := f.service.CreateAlert(t.Context(), alert)
	require.NoError(t, err)
	return created
}

func (f *fixture) reload(t *testing.T, id uint) *entities.Alert {
	t.Helper()
	alert, err := f.alerts.GetAlert(t.Context(), id)
	require.NoError(t, err)
	return alert
}

func (f *fixture) logCount(t *testing.T, alertID uint) int64 {
	t.Helper()
	_, total, err := f.logs.ListLogs(t.Context(), repository.AlertLogFilter{AlertID: alertID})
	require.NoError(t, err)
	return total
}

// upperAlert watches temperature above upper on deviceID every day.
func upperAlert(deviceID uint, upper float64, durationMin int) *entities.Alert {
	return &entities.Alert{
		Name:     "Too warm",
		DeviceID: deviceID,
		Trigger: entities.AlertTrigger{
			Field:       FieldTemperature,
			Range:       entities.AlertRange{Type: RangeUpper, Upper: ptr(upper)},
			DurationMin: durationMin,
		},
		ScheduleType: ScheduleEveryday,
		Recipients:   []string{"ops@example.com"},
		Enabled:      true,
	}
}

var errBoom = errors.NewStd("boom")
