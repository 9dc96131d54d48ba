package repository

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/originsmart/facility-monitor/internal/datastore/entities"
)

func TestDeviceRepository_CRUD(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeviceRepository(db)

	device := createTestDevice(t, db, "oem-1", "cold")
	createTestDevice(t, db, "oem-2", "pressure")

	got, err := repo.GetDevice(t.Context(), device.ID)
	require.NoError(t, err)
	assert.Equal(t, "oem-1", got.OEM)
	assert.False(t, got.IsOffline)

	byOEM, err := repo.GetDeviceByOEM(t.Context(), "oem-2")
	require.NoError(t, err)
	assert.Equal(t, "pressure", byOEM.Type)

	_, err = repo.GetDeviceByOEM(t.Context(), "missing")
	assert.ErrorIs(t, err, ErrDeviceNotFound)

	list, total, err := repo.ListDevices(t.Context(), DeviceFilter{Type: "cold"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, list, 1)

	dup := &entities.Device{OEM: "oem-1", Name: "dup", Type: "cold"}
	assert.Error(t, repo.CreateDevice(t.Context(), dup), "oem is unique")

	require.NoError(t, repo.DeleteDevice(t.Context(), device.ID))
	_, err = repo.GetDevice(t.Context(), device.ID)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.ErrorIs(t, repo.DeleteDevice(t.Context(), device.ID), ErrDeviceNotFound)
}

func TestDeviceRepository_DeleteCascadesAlerts(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeviceRepository(db)
	alerts := NewAlertRepository(db)
	device := createTestDevice(t, db, "oem-1", "cold")
	alert := createTestAlert(t, db, device.ID, "a", "temperature", true)

	require.NoError(t, repo.DeleteDevice(t.Context(), device.ID))
	_, err := alerts.GetAlert(t.Context(), alert.ID)
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestDeviceRepository_UpdateReadings(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeviceRepository(db)
	device := createTestDevice(t, db, "oem-1", "cold")
	require.NoError(t, db.Model(device).Update("is_offline", true).Error)

	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpdateReadings(t.Context(), device.ID, Readings{
		Temperature:      ptr(4.5),
		RelativeHumidity: ptr(60.0),
		UpdatedAt:        at,
	}))
	require.NoError(t, repo.UpdateReadings(t.Context(), device.ID, Readings{
		Temperature: ptr(5.0),
		UpdatedAt:   at.Add(time.Minute),
	}))

	got, err := repo.GetDevice(t.Context(), device.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 5.0, *got.Temperature, 0)
	require.NotNil(t, got.RelativeHumidity)
	assert.InDelta(t, 60.0, *got.RelativeHumidity, 0, "nil readings leave the column untouched")
	assert.Nil(t, got.Pressure)
	require.NotNil(t, got.LastUpdated)
	assert.True(t, at.Add(time.Minute).Equal(*got.LastUpdated))
	assert.False(t, got.IsOffline, "a reading brings the device online")

	err = repo.UpdateReadings(t.Context(), 999, Readings{Temperature: ptr(1.0)})
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestDeviceRepository_UpdateAlertStatus(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeviceRepository(db)
	device := createTestDevice(t, db, "oem-1", "cold")

	require.NoError(t, repo.UpdateAlertStatus(t.Context(), device.ID, map[string]bool{
		ColumnTemperatureAlert: true,
		ColumnHumidityAlert:    true,
	}))
	require.NoError(t, repo.UpdateAlertStatus(t.Context(), device.ID, map[string]bool{
		ColumnHumidityAlert: false,
	}))

	got, err := repo.GetDevice(t.Context(), device.ID)
	require.NoError(t, err)
	assert.True(t, got.TemperatureAlert)
	assert.False(t, got.HumidityAlert)
	assert.False(t, got.PressureAlert)

	err = repo.UpdateAlertStatus(t.Context(), device.ID, map[string]bool{"name": true})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrDeviceNotFound)

	assert.NoError(t, repo.UpdateAlertStatus(t.Context(), device.ID, nil))
}

func TestDeviceRepository_ClaimAlertFlag(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeviceRepository(db)
	device := createTestDevice(t, db, "oem-1", "cold")

	const workers = 8
	var wg sync.WaitGroup
	claims := make(chan bool, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.ClaimAlertFlag(t.Context(), device.ID, ColumnTemperatureAlert)
			assert.NoError(t, err)
			claims <- ok
		}()
	}
	wg.Wait()
	close(claims)

	var won int
	for ok := range claims {
		if ok {
			won++
		}
	}
	assert.Equal(t, 1, won, "exactly one concurrent claim wins")

	got, err := repo.GetDevice(t.Context(), device.ID)
	require.NoError(t, err)
	assert.True(t, got.TemperatureAlert)
	assert.False(t, got.HumidityAlert)

	ok, err := repo.ClaimAlertFlag(t.Context(), device.ID, ColumnHumidityAlert)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = repo.ClaimAlertFlag(t.Context(), 999, ColumnTemperatureAlert)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	_, err = repo.ClaimAlertFlag(t.Context(), device.ID, "name")
	assert.Error(t, err)
}

func TestDeviceRepository_OfflineSweep(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeviceRepository(db)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	fresh := createTestDevice(t, db, "fresh", "cold")
	stale := createTestDevice(t, db, "stale", "cold")
	never := createTestDevice(t, db, "never", "cold")
	back := createTestDevice(t, db, "back", "cold")

	require.NoError(t, repo.UpdateReadings(t.Context(), fresh.ID, Readings{Temperature: ptr(1.0), UpdatedAt: now.Add(-time.Hour)}))
	require.NoError(t, repo.UpdateReadings(t.Context(), stale.ID, Readings{Temperature: ptr(1.0), UpdatedAt: now.Add(-13 * time.Hour)}))
	require.NoError(t, repo.UpdateReadings(t.Context(), back.ID, Readings{Temperature: ptr(1.0), UpdatedAt: now.Add(-2 * time.Hour)}))
	require.NoError(t, db.Model(back).Update("is_offline", true).Error)

	cutoff := now.Add(-12 * time.Hour)
	n, err := repo.MarkOffline(t.Context(), cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n, "stale and never-updated devices go offline")

	n, err = repo.MarkOnline(t.Context(), cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	for id, offline := range map[uint]bool{fresh.ID: false, stale.ID: true, never.ID: true, back.ID: false} {
		got, err := repo.GetDevice(t.Context(), id)
		require.NoError(t, err)
		assert.Equal(t, offline, got.IsOffline, "device %s", got.OEM)
	}

	n, err = repo.MarkOffline(t.Context(), cutoff)
	require.NoError(t, err)
	assert.Zero(t, n, "sweep is idempotent")
}

func TestDeviceRepository_GetStats(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeviceRepository(db)

	stats, err := repo.GetStats(t.Context())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalDevices)
	assert.Nil(t, stats.HighestTemperature)

	a := createTestDevice(t, db, "a", "cold")
	b := createTestDevice(t, db, "b", "cold")
	createTestDevice(t, db, "c", "pressure")
	require.NoError(t, repo.UpdateReadings(t.Context(), a.ID, Readings{Temperature: ptr(3.0), RelativeHumidity: ptr(80.0)}))
	require.NoError(t, repo.UpdateReadings(t.Context(), b.ID, Readings{Temperature: ptr(7.5), RelativeHumidity: ptr(40.0)}))

	stats, err = repo.GetStats(t.Context())
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.TotalDevices)
	require.NotNil(t, stats.HighestTemperature)
	assert.InDelta(t, 7.5, *stats.HighestTemperature, 0)
	require.NotNil(t, stats.HighestRelativeHumidity)
	assert.InDelta(t, 80.0, *stats.HighestRelativeHumidity, 0)
}
