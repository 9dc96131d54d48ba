package repository

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/originsmart/facility-monitor/internal/datastore/entities"
)

// setupTestDB creates an in-memory SQLite database private to the test.
// A single connection keeps every query on the same in-memory database.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=ON", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gorm_logger.Default.LogMode(gorm_logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err, "failed to open in-memory database")

	sqlDB, err := db.DB()
	require.NoError(t, err, "failed to get sql.DB")
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	err = db.AutoMigrate(
		&entities.Device{},
		&entities.Alert{},
		&entities.AlertLog{},
		&entities.TelemetryEvent{},
	)
	require.NoError(t, err, "failed to migrate tables")
	return db
}

func ptr[T any](v T) *T { return &v }

func createTestDevice(t *testing.T, db *gorm.DB, oem, deviceType string) *entities.Device {
	t.Helper()
	device := &entities.Device{OEM: oem, Name: "Device " + oem, Type: deviceType}
	require.NoError(t, NewDeviceRepository(db).CreateDevice(t.Context(), device))
	return device
}

func createTestAlert(t *testing.T, db *gorm.DB, deviceID uint, name, field string, enabled bool) *entities.Alert {
	t.Helper()
	alert := &entities.Alert{
		Name:     name,
		DeviceID: deviceID,
		Trigger: entities.AlertTrigger{
			Field:       field,
			Range:       entities.AlertRange{Type: "upper", Upper: ptr(8.0)},
			DurationMin: 5,
		},
		ScheduleType: "everyday",
		Weekdays:     []string{},
		Recipients:   []string{"ops@example.com"},
		Enabled:      enabled,
	}
	require.NoError(t, NewAlertRepository(db).CreateAlert(t.Context(), alert))
	return alert
}
