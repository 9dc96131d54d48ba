package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/originsmart/facility-monitor/internal/datastore/entities"
)

type telemetryRepository struct {
	db *gorm.DB
}

// NewTelemetryRepository creates a new TelemetryRepository.
func NewTelemetryRepository(db *gorm.DB) TelemetryRepository {
	return &telemetryRepository{db: db}
}

// SaveEvent appends an event.
func (r *telemetryRepository) SaveEvent(ctx context.Context, event *entities.TelemetryEvent) error {
	if event.UpdateTime.IsZero() {
		event.UpdateTime = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to save telemetry event for %s: %w", event.DeviceOEM, err)
	}
	return nil
}

// ListEvents returns events matching filter, newest first.
func (r *telemetryRepository) ListEvents(ctx context.Context, filter TelemetryFilter) ([]entities.TelemetryEvent, int64, error) {
	var events []entities.TelemetryEvent
	var total int64

	if err := applyTelemetryFilter(r.db.WithContext(ctx).Model(&entities.TelemetryEvent{}), filter).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count telemetry events: %w", err)
	}

	query := applyTelemetryFilter(r.db.WithContext(ctx), filter).
		Order("update_time DESC").Order("id DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if err := query.Find(&events).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list telemetry events: %w", err)
	}
	return events, total, nil
}

func applyTelemetryFilter(query *gorm.DB, filter TelemetryFilter) *gorm.DB {
	if filter.DeviceOEM != "" {
		query = query.Where("device_oem = ?", filter.DeviceOEM)
	}
	if filter.From != nil {
		query = query.Where("update_time >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		query = query.Where("update_time <= ?", filter.To.UTC())
	}
	return query
}

// DeleteEventsBefore prunes events received before the given time.
func (r *telemetryRepository) DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("created_at < ?", before.UTC()).Delete(&entities.TelemetryEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete telemetry events before %v: %w", before, result.Error)
	}
	return result.RowsAffected, nil
}
