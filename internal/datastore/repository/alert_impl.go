package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/originsmart/facility-monitor/internal/datastore/entities"
	"github.com/originsmart/facility-monitor/internal/errors"
)

// alertConfigColumns are the user-editable columns written by UpdateAlert.
var alertConfigColumns = []string{
	"name", "device_id", "trigger_field", "trigger_range_type", "trigger_range_lower",
	"trigger_range_upper", "trigger_duration", "schedule_type", "weekdays",
	"recipients", "enabled", "condition_start_time", "updated_at",
}

// alertRepository implements AlertRepository.
type alertRepository struct {
	db *gorm.DB
}

// NewAlertRepository creates a new AlertRepository.
func NewAlertRepository(db *gorm.DB) AlertRepository {
	return &alertRepository{db: db}
}

// ListAlerts returns alerts matching filter, newest first, with their device.
func (r *alertRepository) ListAlerts(ctx context.Context, filter AlertFilter) ([]entities.Alert, int64, error) {
	var alerts []entities.Alert
	var total int64

	countQuery := applyAlertFilter(r.db.WithContext(ctx).Model(&entities.Alert{}), filter)
	if err := countQuery.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count alerts: %w", err)
	}

	query := applyAlertFilter(r.db.WithContext(ctx).Preload("Device"), filter).Order("id DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if err := query.Find(&alerts).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, total, nil
}

func applyAlertFilter(query *gorm.DB, filter AlertFilter) *gorm.DB {
	if filter.DeviceID > 0 {
		query = query.Where("device_id = ?", filter.DeviceID)
	}
	if filter.Field != "" {
		query = query.Where("trigger_field = ?", filter.Field)
	}
	if filter.Enabled != nil {
		query = query.Where("enabled = ?", *filter.Enabled)
	}
	if filter.Active != nil {
		query = query.Where("active = ?", *filter.Active)
	}
	return query
}

// GetAlert returns one alert with its device.
// Returns ErrAlertNotFound if the alert does not exist.
func (r *alertRepository) GetAlert(ctx context.Context, id uint) (*entities.Alert, error) {
	var alert entities.Alert
	if err := r.db.WithContext(ctx).Preload("Device").First(&alert, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to get alert %d: %w", id, err)
	}
	return &alert, nil
}

// CreateAlert inserts an alert. Engine state starts idle.
func (r *alertRepository) CreateAlert(ctx context.Context, alert *entities.Alert) error {
	alert.Active = false
	alert.ConditionStartTime = nil
	alert.NumSent = 0
	alert.StateVersion = 0
	if err := r.db.WithContext(ctx).Omit("Device").Create(alert).Error; err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

// UpdateAlert writes the user-editable columns of alert and re-arms the
// sustain timer, since the trigger it was measuring may have changed.
// Active and the daily counter are left to the engine.
func (r *alertRepository) UpdateAlert(ctx context.Context, alert *entities.Alert) error {
	if alert.ID == 0 {
		return fmt.Errorf("failed to update alert: missing alert ID")
	}
	alert.ConditionStartTime = nil
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(alert).Select(alertConfigColumns).Updates(alert)
		if result.Error != nil {
			return fmt.Errorf("failed to update alert %d: %w", alert.ID, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrAlertNotFound
		}
		if err := tx.Model(&entities.Alert{}).Where("id = ?", alert.ID).
			UpdateColumn("state_version", gorm.Expr("state_version + 1")).Error; err != nil {
			return fmt.Errorf("failed to bump alert %d state version: %w", alert.ID, err)
		}
		return nil
	})
}

// DeleteAlert removes an alert; its logs cascade.
func (r *alertRepository) DeleteAlert(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&entities.Alert{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete alert %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// ListEnabledAlertIDs returns IDs of enabled alerts watching field on deviceID.
func (r *alertRepository) ListEnabledAlertIDs(ctx context.Context, deviceID uint, field string) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&entities.Alert{}).
		Where("device_id = ? AND trigger_field = ? AND enabled = ?", deviceID, field, true).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled alerts for device %d field %s: %w", deviceID, field, err)
	}
	return ids, nil
}

// CompareAndSwapState writes state only if the stored version still equals
// expectedVersion, incrementing it. Returns ErrStaleState on a version
// mismatch and ErrAlertNotFound if the alert is gone.
func (r *alertRepository) CompareAndSwapState(ctx context.Context, id uint, expectedVersion uint64, state AlertState) error {
	return swapState(r.db.WithContext(ctx), id, expectedVersion, state)
}

// CommitFiring swaps in the fired state and appends its log row atomically.
func (r *alertRepository) CommitFiring(ctx context.Context, id uint, expectedVersion uint64, state AlertState, entry *entities.AlertLog) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := swapState(tx, id, expectedVersion, state); err != nil {
			return err
		}
		entry.AlertID = id
		if err := tx.Omit("Alert").Create(entry).Error; err != nil {
			return fmt.Errorf("failed to create alert log for alert %d: %w", id, err)
		}
		return nil
	})
}

func swapState(db *gorm.DB, id uint, expectedVersion uint64, state AlertState) error {
	result := db.Model(&entities.Alert{}).
		Where("id = ? AND state_version = ?", id, expectedVersion).
		Updates(map[string]any{
			"active":               state.Active,
			"condition_start_time": state.ConditionStartTime,
			"num_sent":             state.NumSent,
			"last_sent_at":         state.LastSentAt,
			"state_version":        gorm.Expr("state_version + 1"),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update alert %d state: %w", id, result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}

	var count int64
	if err := db.Model(&entities.Alert{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check alert %d: %w", id, err)
	}
	if count == 0 {
		return ErrAlertNotFound
	}
	return ErrStaleState
}

// ResetDailyCounters zeroes num_sent on every alert that sent today.
func (r *alertRepository) ResetDailyCounters(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Model(&entities.Alert{}).
		Where("num_sent > ?", 0).
		Updates(map[string]any{
			"num_sent":      0,
			"state_version": gorm.Expr("state_version + 1"),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to reset daily alert counters: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// GetStats counts active and inactive alerts and names the active ones.
func (r *alertRepository) GetStats(ctx context.Context) (*AlertStats, error) {
	var rows []struct {
		Name   string
		Active bool
	}
	if err := r.db.WithContext(ctx).Model(&entities.Alert{}).
		Select("name", "active").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load alert stats: %w", err)
	}

	stats := &AlertStats{ActiveAlerts: []string{}}
	for _, row := range rows {
		if row.Active {
			stats.TotalActiveAlerts++
			stats.ActiveAlerts = append(stats.ActiveAlerts, row.Name)
		} else {
			stats.TotalNonActiveAlerts++
		}
	}
	return stats, nil
}
