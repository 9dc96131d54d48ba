package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/originsmart/facility-monitor/internal/alerting"
	"github.com/originsmart/facility-monitor/internal/datastore/entities"
	"github.com/originsmart/facility-monitor/internal/datastore/repository"
	"github.com/originsmart/facility-monitor/internal/ingest"
	"github.com/originsmart/facility-monitor/internal/logger"
	"github.com/originsmart/facility-monitor/internal/notification"
)

func ptr[T any](v T) *T { return &v }

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
}

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

// fakeMailer records sent alerts.
type fakeMailer struct {
	mu   sync.Mutex
	sent []notification.DeviceAlert
}

func (m *fakeMailer) SendDeviceAlert(_ context.Context, a notification.DeviceAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, a)
	return nil
}

func (m *fakeMailer) Sent() []notification.DeviceAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notification.DeviceAlert(nil), m.sent...)
}

// apiFixture is the full stack behind the v2 routes on sqlite.
type apiFixture struct {
	echo       *echo.Echo
	controller *Controller
	devices    repository.DeviceRepository
	alerts     repository.AlertRepository
	logs       repository.AlertLogRepository
	telemetry  repository.TelemetryRepository
	mailer     *fakeMailer
	engine     *alerting.Engine
	bus        *alerting.EventBus
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	db := setupTestDB(t)
	f := &apiFixture{
		echo:      echo.New(),
		devices:   repository.NewDeviceRepository(db),
		alerts:    repository.NewAlertRepository(db),
		logs:      repository.NewAlertLogRepository(db),
		telemetry: repository.NewTelemetryRepository(db),
		mailer:    &fakeMailer{},
		bus:       alerting.NewEventBus(nil),
	}

	cfg := alerting.DefaultConfig()
	gateway := alerting.NewGateway(f.mailer, f.logs, cfg.Location, testLogger())
	f.engine = alerting.NewEngine(f.alerts, f.devices, f.logs, gateway, cfg, testLogger())
	f.engine.Subscribe(f.bus)
	t.Cleanup(func() {
		f.bus.Stop()
		f.engine.WaitForNotifications()
	})

	f.controller = New(f.echo, Deps{
		Alerts:      alerting.NewService(f.alerts, f.devices, f.logs, f.engine, cfg.Location, testLogger()),
		Gateway:     gateway,
		Bus:         f.bus,
		Invalidator: f.engine,
		Devices:     f.devices,
		Telemetry:   f.telemetry,
		Ingestor:    ingest.NewIngestor(f.devices, f.telemetry, f.bus, nil, testLogger()),
	}, testLogger())
	t.Cleanup(f.controller.Shutdown)
	return f
}

func (f *apiFixture) createDevice(t *testing.T, oem, deviceType string) *entities.Device {
	t.Helper()
	device := &entities.Device{OEM: oem, Name: "Device " + oem, Type: deviceType}
	require.NoError(t, f.devices.CreateDevice(t.Context(), device))
	return device
}

// do performs a request against the router. A non-nil body is sent as JSON.
func (f *apiFixture) do(t *testing.T, method, target string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = strings.NewReader(b)
		default:
			raw, err := json.Marshal(b)
			require.NoError(t, err)
			reader = bytes.NewReader(raw)
		}
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// alertBody is a valid creation request for an upper temperature alert.
func alertBody(deviceID uint, upper float64) map[string]any {
	return map[string]any{
		"name":      "Too warm",
		"device_id": deviceID,
		"trigger": map[string]any{
			"field":    alerting.FieldTemperature,
			"range":    map[string]any{"type": alerting.RangeUpper, "upper": upper},
			"duration": 0,
		},
		"schedule_type": alerting.ScheduleEveryday,
		"recipients":    []string{"ops@example.com"},
	}
}

func webhookBody(oem string, temperature float64) string {
	return fmt.Sprintf(`{"metadata":{"deviceId":%q},"event":{"eventType":"humidity","data":{"humidity":{"temperature":%v,"relativeHumidity":40}}}}`,
		oem, temperature)
}

// requireStatus fails with the body on an unexpected status.
func requireStatus(t *testing.T, want int, rec *httptest.ResponseRecorder) {
	t.Helper()
	require.Equal(t, want, rec.Code, rec.Body.String())
}
