package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/originsmart/facility-monitor/internal/datastore/entities"
	"github.com/originsmart/facility-monitor/internal/errors"
)

// deviceRepository implements DeviceRepository.
type deviceRepository struct {
	db *gorm.DB
}

// NewDeviceRepository creates a new DeviceRepository.
func NewDeviceRepository(db *gorm.DB) DeviceRepository {
	return &deviceRepository{db: db}
}

// ListDevices returns devices, optionally filtered by type.
func (r *deviceRepository) ListDevices(ctx context.Context, filter DeviceFilter) ([]entities.Device, int64, error) {
	var devices []entities.Device
	var total int64

	countQuery := r.db.WithContext(ctx).Model(&entities.Device{})
	query := r.db.WithContext(ctx).Order("name ASC").Order("id ASC")
	if filter.Type != "" {
		countQuery = countQuery.Where("type = ?", filter.Type)
		query = query.Where("type = ?", filter.Type)
	}
	if err := countQuery.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count devices: %w", err)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if err := query.Find(&devices).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, total, nil
}

// GetDevice returns a device by ID.
func (r *deviceRepository) GetDevice(ctx context.Context, id uint) (*entities.Device, error) {
	var device entities.Device
	if err := r.db.WithContext(ctx).First(&device, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to get device %d: %w", id, err)
	}
	return &device, nil
}

// GetDeviceByOEM returns a device by its manufacturer identifier.
func (r *deviceRepository) GetDeviceByOEM(ctx context.Context, oem string) (*entities.Device, error) {
	var device entities.Device
	if err := r.db.WithContext(ctx).Where("oem = ?", oem).First(&device).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to get device by oem %q: %w", oem, err)
	}
	return &device, nil
}

// CreateDevice inserts a device.
func (r *deviceRepository) CreateDevice(ctx context.Context, device *entities.Device) error {
	if err := r.db.WithContext(ctx).Create(device).Error; err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}
	return nil
}

// DeleteDevice removes a device; its alerts cascade.
func (r *deviceRepository) DeleteDevice(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&entities.Device{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete device %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// UpdateReadings stores a telemetry sample.
func (r *deviceRepository) UpdateReadings(ctx context.Context, id uint, readings Readings) error {
	updatedAt := readings.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	values := map[string]any{
		"last_updated": updatedAt.UTC(),
		"is_offline":   false,
	}
	if readings.Temperature != nil {
		values["temperature"] = *readings.Temperature
	}
	if readings.RelativeHumidity != nil {
		values["relative_humidity"] = *readings.RelativeHumidity
	}
	if readings.Pressure != nil {
		values["pressure"] = *readings.Pressure
	}
	if readings.SignalStrength != nil {
		values["signal_strength"] = *readings.SignalStrength
	}

	result := r.db.WithContext(ctx).Model(&entities.Device{}).Where("id = ?", id).Updates(values)
	if result.Error != nil {
		return fmt.Errorf("failed to update device %d readings: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// UpdateAlertStatus sets alert-presence flags. Unknown columns are rejected.
func (r *deviceRepository) UpdateAlertStatus(ctx context.Context, id uint, flags map[string]bool) error {
	if len(flags) == 0 {
		return nil
	}
	values := make(map[string]any, len(flags))
	for column, v := range flags {
		switch column {
		case ColumnTemperatureAlert, ColumnHumidityAlert, ColumnPressureAlert:
			values[column] = v
		default:
			return fmt.Errorf("failed to update device %d alert status: unknown flag %q", id, column)
		}
	}
	result := r.db.WithContext(ctx).Model(&entities.Device{}).Where("id = ?", id).Updates(values)
	if result.Error != nil {
		return fmt.Errorf("failed to update device %d alert status: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// ClaimAlertFlag is a conditional update, so of several concurrent claims on
// one flag exactly one succeeds.
func (r *deviceRepository) ClaimAlertFlag(ctx context.Context, id uint, column string) (bool, error) {
	switch column {
	case ColumnTemperatureAlert, ColumnHumidityAlert, ColumnPressureAlert:
	default:
		return false, fmt.Errorf("failed to claim device %d alert flag: unknown flag %q", id, column)
	}
	result := r.db.WithContext(ctx).Model(&entities.Device{}).
		Where("id = ?", id).
		Where(column+" = ?", false).
		Update(column, true)
	if result.Error != nil {
		return false, fmt.Errorf("failed to claim device %d alert flag %s: %w", id, column, result.Error)
	}
	if result.RowsAffected == 1 {
		return true, nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&entities.Device{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check device %d: %w", id, err)
	}
	if count == 0 {
		return false, ErrDeviceNotFound
	}
	return false, nil
}

// MarkOffline flags online devices whose last update is older than
// staleBefore, or which never reported.
func (r *deviceRepository) MarkOffline(ctx context.Context, staleBefore time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&entities.Device{}).
		Where("is_offline = ? AND (last_updated IS NULL OR last_updated < ?)", false, staleBefore.UTC()).
		Update("is_offline", true)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark stale devices offline: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// MarkOnline clears the offline flag on devices updated at or after staleBefore.
func (r *deviceRepository) MarkOnline(ctx context.Context, staleBefore time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&entities.Device{}).
		Where("is_offline = ? AND last_updated >= ?", true, staleBefore.UTC()).
		Update("is_offline", false)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark fresh devices online: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// GetStats returns fleet-wide aggregates.
func (r *deviceRepository) GetStats(ctx context.Context) (*entities.DeviceStats, error) {
	var stats entities.DeviceStats
	err := r.db.WithContext(ctx).Model(&entities.Device{}).
		Select("COUNT(*) AS total_devices, MAX(temperature) AS highest_temperature, MAX(relative_humidity) AS highest_relative_humidity").
		Scan(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to compute device stats: %w", err)
	}
	return &stats, nil
}
