package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/originsmart/facility-monitor/internal/datastore/entities"
	"github.com/originsmart/facility-monitor/internal/errors"
)

// alertLogRepository implements AlertLogRepository.
type alertLogRepository struct {
	db *gorm.DB
}

// NewAlertLogRepository creates a new AlertLogRepository.
func NewAlertLogRepository(db *gorm.DB) AlertLogRepository {
	return &alertLogRepository{db: db}
}

// CreateLog appends a log entry.
func (r *alertLogRepository) CreateLog(ctx context.Context, log *entities.AlertLog) error {
	if err := r.db.WithContext(ctx).Omit("Alert").Create(log).Error; err != nil {
		return fmt.Errorf("failed to create alert log: %w", err)
	}
	return nil
}

// GetLog returns a log with its alert and device.
func (r *alertLogRepository) GetLog(ctx context.Context, id uint) (*entities.AlertLog, error) {
	var log entities.AlertLog
	if err := r.db.WithContext(ctx).Preload("Alert.Device").First(&log, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertLogNotFound
		}
		return nil, fmt.Errorf("failed to get alert log %d: %w", id, err)
	}
	return &log, nil
}

// ListLogs returns logs matching filter, newest first.
func (r *alertLogRepository) ListLogs(ctx context.Context, filter AlertLogFilter) ([]entities.AlertLog, int64, error) {
	var logs []entities.AlertLog
	var total int64

	countQuery := applyAlertLogFilter(r.db.WithContext(ctx).Model(&entities.AlertLog{}), filter)
	if err := countQuery.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count alert logs: %w", err)
	}

	query := applyAlertLogFilter(r.db.WithContext(ctx).Preload("Alert.Device"), filter).
		Order("created_at DESC").Order("id DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if err := query.Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list alert logs: %w", err)
	}
	return logs, total, nil
}

func applyAlertLogFilter(query *gorm.DB, filter AlertLogFilter) *gorm.DB {
	if filter.AlertID > 0 {
		query = query.Where("alert_id = ?", filter.AlertID)
	}
	if filter.Accepted != nil {
		query = query.Where("accepted = ?", *filter.Accepted)
	}
	if filter.From != nil {
		query = query.Where("created_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		query = query.Where("created_at <= ?", filter.To.UTC())
	}
	return query
}

// UpdateNotes replaces the free-text notes on a log.
func (r *alertLogRepository) UpdateNotes(ctx context.Context, id uint, notes string) (*entities.AlertLog, error) {
	result := r.db.WithContext(ctx).Model(&entities.AlertLog{}).Where("id = ?", id).Update("notes", notes)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update alert log %d notes: %w", id, result.Error)
	}
	// MySQL reports zero affected rows when the notes are unchanged, so
	// existence is decided by the read.
	return r.GetLog(ctx, id)
}

// LatestForAlert returns the most recent log of an alert.
func (r *alertLogRepository) LatestForAlert(ctx context.Context, alertID uint) (*entities.AlertLog, error) {
	var log entities.AlertLog
	err := r.db.WithContext(ctx).Where("alert_id = ?", alertID).
		Order("created_at DESC").Order("id DESC").First(&log).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertLogNotFound
		}
		return nil, fmt.Errorf("failed to get latest log for alert %d: %w", alertID, err)
	}
	return &log, nil
}

// DeleteLogsBefore deletes logs created before the given time.
func (r *alertLogRepository) DeleteLogsBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("created_at < ?", before.UTC()).Delete(&entities.AlertLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete alert logs before %v: %w", before, result.Error)
	}
	return result.RowsAffected, nil
}

// AcceptLog acknowledges a log and returns its alert to idle: inactive with
// no sustain timer running. The conditional
// update on accepted=false makes concurrent acknowledgements resolve to one
// winner; the others see ErrAlertLogAccepted.
func (r *alertLogRepository) AcceptLog(ctx context.Context, id uint, userID string, at time.Time) (*entities.AlertLog, error) {
	at = at.UTC()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&entities.AlertLog{}).
			Where("id = ? AND accepted = ?", id, false).
			Updates(map[string]any{
				"accepted":    true,
				"user_id":     userID,
				"accepted_at": at,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to accept alert log %d: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&entities.AlertLog{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return fmt.Errorf("failed to check alert log %d: %w", id, err)
			}
			if count == 0 {
				return ErrAlertLogNotFound
			}
			return ErrAlertLogAccepted
		}

		var alertIDs []uint
		if err := tx.Model(&entities.AlertLog{}).Where("id = ?", id).
			Pluck("alert_id", &alertIDs).Error; err != nil {
			return fmt.Errorf("failed to load alert for log %d: %w", id, err)
		}
		if len(alertIDs) == 0 {
			return ErrAlertLogNotFound
		}
		alertID := alertIDs[0]
		if err := tx.Model(&entities.Alert{}).Where("id = ?", alertID).
			Updates(map[string]any{
				"active":               false,
				"condition_start_time": nil,
				"state_version":        gorm.Expr("state_version + 1"),
			}).Error; err != nil {
			return fmt.Errorf("failed to deactivate alert %d: %w", alertID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.GetLog(ctx, id)
}
