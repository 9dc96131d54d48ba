package alerting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/originsmart/facility-monitor/internal/datastore/entities"
	"github.com/originsmart/facility-monitor/internal/datastore/repository"
	"github.com/originsmart/facility-monitor/internal/errors"
)

func alertFor(deviceID uint, field string) *entities.Alert {
	a := upperAlert(deviceID, 30, 0)
	a.Trigger.Field = field
	return a
}

func TestService_CreateSetsDeviceFlag(t *testing.T) {
	t.Parallel()
	f := newFixture(t, DefaultConfig(), t0)
	device := f.createDevice(t, "oem-1", DeviceTypeHumidity)

	created := f.createAlert(t, alertFor(device.ID, FieldTemperature))
	assert.NotZero(t, created.ID)
	require.NotNil(t, created.Device)
	assert.Equal(t, device.ID, created.Device.ID)
	assert.False(t, created.Active)

	got, err := f.devices.GetDevice(t.Context(), device.ID)
	require.NoError(t, err)
	assert.True(t, got.TemperatureAlert)
	assert.False(t, got.HumidityAlert)
}

func TestService_CreateConflicts(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		deviceType string
		field      string
		conflict   bool
	}{
		{"temperature on cold", DeviceTypeCold, FieldTemperature, true},
		{"humidity on humidity", DeviceTypeHumidity, FieldRelativeHumidity, true},
		{"pressure on pressure", DeviceTypePressure, FieldPressure, true},
		{"temperature on pressure", DeviceTypePressure, FieldTemperature, false},
		{"pressure on cold", DeviceTypeCold, FieldPressure, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, DefaultConfig(), t0)
			device := f.createDevice(t, "oem-1", tt.deviceType)
			f.createAlert(t, alertFor(device.ID, tt.field))

			_, err := f.service.CreateAlert(t.Context(), alertFor(device.ID, tt.field))
			if !tt.conflict {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryConflict))
		})
	}
}

func TestService_ConcurrentCreatesOnOneFieldHaveOneWinner(t *testing.T) {
	t.Parallel()
	f := newFixture(t, DefaultConfig(), t0)
	device := f.createDevice(t, "oem-1", DeviceTypeCold)

	const workers = 6
	results := make(chan error, workers)
	for range workers {
		go func() {
			_, err := f.service.CreateAlert(t.Context(), alertFor(device.ID, FieldTemperature))
			results <- err
		}()
	}
	var created, conflicts int
	for range workers {
		err := <-results
		switch {
		case err == nil:
			created++
		case errors.IsCategory(err, errors.CategoryConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, workers-1, conflicts)

	_, total, err := f.alerts.ListAlerts(t.Context(), repository.AlertFilter{DeviceID: device.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestService_CreateRejections(t *testing.T) {
	t.Parallel()
	f := newFixture(t, DefaultConfig(), t0)

	_, err := f.service.CreateAlert(t.Context(), alertFor(404, FieldTemperature))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))

	device := f.createDevice(t, "oem-1", DeviceTypeCold)
	bad := alertFor(device.ID, FieldTemperature)
	bad.ScheduleType = ScheduleCustom
	bad.Weekdays = []string{}
	_, err = f.service.CreateAlert(t.Context(), bad)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	_, total, err := f.alerts.ListAlerts(t.Context(), repository.AlertFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestService_DeleteClearsFlag(t *testing.T) {
	t.Parallel()
	f := newFixture(t, DefaultConfig(), t0)
	device := f.createDevice(t, "oem-1", DeviceTypeCold)
	alert := f.createAlert(t, alertFor(device.ID, FieldTemperature))

	require.NoError(t, f.service.DeleteAlert(t.Context(), alert.ID))
	got, err := f.devices.GetDevice(t.Context(), device.ID)
	require.NoError(t, err)
	assert.False(t, got.TemperatureAlert)

	// The field is free again.
	f.createAlert(t, alertFor(device.ID, FieldTemperature))

	err = f.service.DeleteAlert(t.Context(), alert.ID)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))
}

func TestService_UpdateMovesFlag(t *testing.T) {
	t.Parallel()
	f := newFixture(t, DefaultConfig(), t0)
	device := f.createDevice(t, "oem-1", DeviceTypeHumidity)
	alert := f.createAlert(t, alertFor(device.ID, FieldTemperature))

	updated, err := f.service.UpdateAlert(t.Context(), alert.ID, AlertPatch{
		Name:    ptr("Humidity high"),
		Trigger: &TriggerPatch{Field: ptr(FieldRelativeHumidity)},
	})
	require.NoError(t, err)
	assert.Equal(t, "Humidity high", updated.Name)
	assert.Equal(t, FieldRelativeHumidity, updated.Trigger.Field)
	assert.Equal(t, []string{"ops@example.com"}, updated.Recipients, "unpatched fields are kept")

	got, err := f.devices.GetDevice(t.Context(), device.ID)
	require.NoError(t, err)
	assert.False(t, got.TemperatureAlert)
	assert.True(t, got.HumidityAlert)

	other := f.createDevice(t, "oem-2", DeviceTypeHumidity)
	_, err = f.service.UpdateAlert(t.Context(), alert.ID, AlertPatch{DeviceID: ptr(other.ID)})
	require.NoError(t, err)
	first, err := f.devices.GetDevice(t.Context(), device.ID)
	require.NoError(t, err)
	second, err := f.devices.GetDevice(t.Context(), other.ID)
	require.NoError(t, err)
	assert.False(t, first.HumidityAlert)
	assert.True(t, second.HumidityAlert)
}

func TestService_UpdateConflictsOnTakenField(t *testing.T) {
	t.Parallel()
	f := newFixture(t, DefaultConfig(), t0)
	device := f.createDevice(t, "oem-1", DeviceTypeHumidity)
	f.createAlert(t, alertFor(device.ID, FieldTemperature))
	humidity := f.createAlert(t, alertFor(device.ID, FieldRelativeHumidity))

	_, err := f.service.UpdateAlert(t.Context(), humidity.ID, AlertPatch{Trigger: &TriggerPatch{Field: ptr(FieldTemperature)}})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))
	assert.Equal(t, FieldRelativeHumidity, f.reload(t, humidity.ID).Trigger.Field)
}

func TestService_UpdateRestartsTimer(t *testing.T) {
	t.Parallel()
	f := newFixture(t, DefaultConfig(), t0)
	device := f.createDevice(t, "oem-1", DeviceTypeCold)
	alert := f.createAlert(t, upperAlert(device.ID, 30, 5))
	f.evaluate(t, device.ID, FieldTemperature, 31)
	require.NotNil(t, f.reload(t, alert.ID).ConditionStartTime)

	updated, err := f.service.UpdateAlert(t.Context(), alert.ID, AlertPatch{
		Trigger: &TriggerPatch{Range: &entities.AlertRange{Type: RangeUpper, Upper: ptr(25.0)}},
	})
	require.NoError(t, err)
	assert.Nil(t, updated.ConditionStartTime)
	require.NotNil(t, updated.Trigger.Range.Upper)
	assert.InDelta(t, 25.0, *updated.Trigger.Range.Upper, 0)
	assert.Equal(t, 5, updated.Trigger.DurationMin)
}

func TestService_UpdateValidates(t *testing.T) {
	t.Parallel()
	f := newFixture(t, DefaultConfig(), t0)
	device := f.createDevice(t, "oem-1", DeviceTypeCold)
	alert := f.createAlert(t, upperAlert(device.ID, 30, 5))

	_, err := f.service.UpdateAlert(t.Context(), alert.ID, AlertPatch{ScheduleType: ptr(ScheduleCustom)})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	_, err = f.service.UpdateAlert(t.Context(), 9999, AlertPatch{})
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))
}

func TestService_ListAlertsByDevice(t *testing.T) {
	t.Parallel()
	f := newFixture(t, DefaultConfig(), t0)
	a := f.createDevice(t, "oem-a", DeviceTypeHumidity)
	b := f.createDevice(t, "oem-b", DeviceTypeHumidity)
	f.createAlert(t, alertFor(a.ID, FieldTemperature))
	f.createAlert(t, alertFor(a.ID, FieldRelativeHumidity))
	f.createAlert(t, alertFor(b.ID, FieldTemperature))

	alerts, err := f.service.ListAlertsByDevice(t.Context(), a.ID)
	require.NoError(t, err)
	assert.Len(t, alerts, 2)

	_, err = f.service.ListAlertsByDevice(t.Context(), 9999)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))
}

func TestService_Stats(t *testing.T) {
	t.Parallel()
	f := newFixture(t, DefaultConfig(), t0)
	device := f.createDevice(t, "oem-1", DeviceTypeHumidity)
	hot := f.createAlert(t, alertFor(device.ID, FieldTemperature))
	f.createAlert(t, alertFor(device.ID, FieldRelativeHumidity))
	f.evaluate(t, device.ID, FieldTemperature, 31)

	stats, err := f.service.Stats(t.Context())
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TotalActiveAlerts)
	assert.EqualValues(t, 1, stats.TotalNonActiveAlerts)
	assert.Equal(t, []string{hot.Name}, stats.ActiveAlerts)
}

func TestService_ListLogsToCoversWholeDay(t *testing.T) {
	t.Parallel()
	f := newFixture(t, DefaultConfig(), t0)
	device := f.createDevice(t, "oem-1", DeviceTypeCold)
	alert := f.createAlert(t, alertFor(device.ID, FieldTemperature))

	for _, at := range []time.Time{
		time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC),
		time.Date(2026, 3, 11, 0, 30, 0, 0, time.UTC),
	} {
		entry := &entities.AlertLog{AlertID: alert.ID, Field: FieldTemperature, Value: 31, CreatedAt: at}
		require.NoError(t, f.logs.CreateLog(t.Context(), entry))
	}

	to := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	logs, total, err := f.service.ListLogs(t.Context(), LogQuery{AlertID: alert.ID, To: &to})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, logs, 2)

	from := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	_, total, err = f.service.ListLogs(t.Context(), LogQuery{From: &from})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
}

func TestService_LogNotesAndLatest(t *testing.T) {
	t.Parallel()
	f := newFixture(t, DefaultConfig(), t0)
	device := f.createDevice(t, "oem-1", DeviceTypeCold)
	alert := f.createAlert(t, alertFor(device.ID, FieldTemperature))

	_, err := f.service.LatestLog(t.Context(), alert.ID)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))

	f.evaluate(t, device.ID, FieldTemperature, 31)
	latest, err := f.service.LatestLog(t.Context(), alert.ID)
	require.NoError(t, err)

	updated, err := f.service.UpdateLogNotes(t.Context(), latest.ID, "door left open")
	require.NoError(t, err)
	assert.Equal(t, "door left open", updated.Notes)

	_, err = f.service.UpdateLogNotes(t.Context(), 9999, "x")
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))
	_, err = f.service.GetLog(t.Context(), 9999)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))
}
