package alerting

import (
	"context"
	"time"

	"github.com/originsmart/facility-monitor/internal/datastore/entities"
	"github.com/originsmart/facility-monitor/internal/datastore/repository"
	"github.com/originsmart/facility-monitor/internal/errors"
	"github.com/originsmart/facility-monitor/internal/logger"
)

// Invalidator drops cached alert lookups of a device.
type Invalidator interface {
	InvalidateDevice(deviceID uint)
}

// Service manages alert definitions and their logs on behalf of the API.
// It keeps the device alert-presence flags in step with the alerts.
type Service struct {
	alerts      repository.AlertRepository
	devices     repository.DeviceRepository
	logs        repository.AlertLogRepository
	invalidator Invalidator
	loc         *time.Location
	log         logger.Logger
}

// NewService creates a Service. loc resolves date-only log filters.
func NewService(
	alerts repository.AlertRepository,
	devices repository.DeviceRepository,
	logs repository.AlertLogRepository,
	invalidator Invalidator,
	loc *time.Location,
	log logger.Logger,
) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		alerts:      alerts,
		devices:     devices,
		logs:        logs,
		invalidator: invalidator,
		loc:         loc,
		log:         log.Module("alerts"),
	}
}

// AlertPatch is a partial alert update. Nil fields are left unchanged.
type AlertPatch struct {
	Name         *string       `json:"name"`
	DeviceID     *uint         `json:"device_id"`
	Trigger      *TriggerPatch `json:"trigger"`
	ScheduleType *string       `json:"schedule_type"`
	Weekdays     *[]string     `json:"weekdays"`
	Recipients   *[]string     `json:"recipients"`
	Enabled      *bool         `json:"enabled"`
}

// TriggerPatch is a partial trigger update. A non-nil Range replaces the
// whole range.
type TriggerPatch struct {
	Field       *string              `json:"field"`
	Range       *entities.AlertRange `json:"range"`
	DurationMin *int                 `json:"duration"`
}

func (p AlertPatch) apply(a *entities.Alert) {
	if p.Name != nil {
		a.Name = *p.Name
	}
	if p.DeviceID != nil {
		a.DeviceID = *p.DeviceID
	}
	if t := p.Trigger; t != nil {
		if t.Field != nil {
			a.Trigger.Field = *t.Field
		}
		if t.Range != nil {
			a.Trigger.Range = *t.Range
		}
		if t.DurationMin != nil {
			a.Trigger.DurationMin = *t.DurationMin
		}
	}
	if p.ScheduleType != nil {
		a.ScheduleType = *p.ScheduleType
	}
	if p.Weekdays != nil {
		a.Weekdays = *p.Weekdays
	}
	if p.Recipients != nil {
		a.Recipients = *p.Recipients
	}
	if p.Enabled != nil {
		a.Enabled = *p.Enabled
	}
}

// CreateAlert validates and stores a new alert and flags its device field.
// A device field already carrying an alert is a conflict.
func (s *Service) CreateAlert(ctx context.Context, alert *entities.Alert) (*entities.Alert, error) {
	if err := ValidateAlert(alert); err != nil {
		return nil, err
	}
	device, err := s.loadDevice(ctx, alert.DeviceID)
	if err != nil {
		return nil, err
	}
	tracked, err := s.claimFlag(ctx, device, alert.Trigger.Field)
	if err != nil {
		return nil, err
	}

	alert.ID = 0
	alert.Device = nil
	if err := s.alerts.CreateAlert(ctx, alert); err != nil {
		if tracked {
			s.releaseFlag(ctx, alert.DeviceID, alert.Trigger.Field)
		}
		return nil, databaseError(err)
	}
	if !tracked {
		s.setFlag(ctx, alert.DeviceID, alert.Trigger.Field, true)
	}
	s.invalidator.InvalidateDevice(alert.DeviceID)

	s.log.Info("alert created",
		logger.Uint64("alert_id", uint64(alert.ID)),
		logger.Uint64("device_id", uint64(alert.DeviceID)),
		logger.String("field", alert.Trigger.Field))
	return s.GetAlert(ctx, alert.ID)
}

// GetAlert returns an alert with its device.
func (s *Service) GetAlert(ctx context.Context, id uint) (*entities.Alert, error) {
	alert, err := s.alerts.GetAlert(ctx, id)
	if err != nil {
		return nil, repoError(err, "alert_id", id)
	}
	return alert, nil
}

// ListAlerts returns a page of alerts and the total matching count.
func (s *Service) ListAlerts(ctx context.Context, filter repository.AlertFilter) ([]entities.Alert, int64, error) {
	alerts, total, err := s.alerts.ListAlerts(ctx, filter)
	if err != nil {
		return nil, 0, databaseError(err)
	}
	return alerts, total, nil
}

// ListAlertsByDevice returns every alert of one device.
func (s *Service) ListAlertsByDevice(ctx context.Context, deviceID uint) ([]entities.Alert, error) {
	if _, err := s.loadDevice(ctx, deviceID); err != nil {
		return nil, err
	}
	alerts, _, err := s.alerts.ListAlerts(ctx, repository.AlertFilter{DeviceID: deviceID})
	if err != nil {
		return nil, databaseError(err)
	}
	return alerts, nil
}

// UpdateAlert merges patch into the stored alert, validates the result and
// saves it. The sustain timer restarts. Moving the alert to another device
// or field moves the presence flag with it.
func (s *Service) UpdateAlert(ctx context.Context, id uint, patch AlertPatch) (*entities.Alert, error) {
	current, err := s.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	oldDeviceID, oldField := current.DeviceID, current.Trigger.Field

	updated := *current
	updated.Device = nil
	patch.apply(&updated)
	if err := ValidateAlert(&updated); err != nil {
		return nil, err
	}

	moved := updated.DeviceID != oldDeviceID || updated.Trigger.Field != oldField
	var tracked bool
	if moved {
		device, err := s.loadDevice(ctx, updated.DeviceID)
		if err != nil {
			return nil, err
		}
		if tracked, err = s.claimFlag(ctx, device, updated.Trigger.Field); err != nil {
			return nil, err
		}
	}

	if err := s.alerts.UpdateAlert(ctx, &updated); err != nil {
		if tracked {
			s.releaseFlag(ctx, updated.DeviceID, updated.Trigger.Field)
		}
		return nil, repoError(err, "alert_id", id)
	}
	if moved {
		s.setFlag(ctx, oldDeviceID, oldField, false)
		if !tracked {
			s.setFlag(ctx, updated.DeviceID, updated.Trigger.Field, true)
		}
		s.invalidator.InvalidateDevice(oldDeviceID)
	}
	s.invalidator.InvalidateDevice(updated.DeviceID)

	s.log.Info("alert updated", logger.Uint64("alert_id", uint64(id)), logger.Bool("moved", moved))
	return s.GetAlert(ctx, id)
}

// DeleteAlert removes an alert, its logs and its device presence flag.
func (s *Service) DeleteAlert(ctx context.Context, id uint) error {
	alert, err := s.GetAlert(ctx, id)
	if err != nil {
		return err
	}
	if err := s.alerts.DeleteAlert(ctx, id); err != nil {
		return repoError(err, "alert_id", id)
	}
	s.setFlag(ctx, alert.DeviceID, alert.Trigger.Field, false)
	s.invalidator.InvalidateDevice(alert.DeviceID)
	s.log.Info("alert deleted", logger.Uint64("alert_id", uint64(id)))
	return nil
}

// Stats summarises active and inactive alerts.
func (s *Service) Stats(ctx context.Context) (*repository.AlertStats, error) {
	stats, err := s.alerts.GetStats(ctx)
	if err != nil {
		return nil, databaseError(err)
	}
	return stats, nil
}

// LogQuery filters alert logs. To is a date: logs up to the end of that day
// in the service timezone are included.
type LogQuery struct {
	AlertID  uint
	Accepted *bool
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

// ListLogs returns a page of alert logs, newest first, and the total count.
func (s *Service) ListLogs(ctx context.Context, q LogQuery) ([]entities.AlertLog, int64, error) {
	filter := repository.AlertLogFilter{
		AlertID:  q.AlertID,
		Accepted: q.Accepted,
		From:     q.From,
		Limit:    q.Limit,
		Offset:   q.Offset,
	}
	if q.To != nil {
		end := EndOfDay(*q.To, s.loc)
		filter.To = &end
	}
	logs, total, err := s.logs.ListLogs(ctx, filter)
	if err != nil {
		return nil, 0, databaseError(err)
	}
	return logs, total, nil
}

// GetLog returns one alert log with its alert and device.
func (s *Service) GetLog(ctx context.Context, id uint) (*entities.AlertLog, error) {
	entry, err := s.logs.GetLog(ctx, id)
	if err != nil {
		return nil, repoError(err, "log_id", id)
	}
	return entry, nil
}

// UpdateLogNotes replaces the notes of a log.
func (s *Service) UpdateLogNotes(ctx context.Context, id uint, notes string) (*entities.AlertLog, error) {
	entry, err := s.logs.UpdateNotes(ctx, id, notes)
	if err != nil {
		return nil, repoError(err, "log_id", id)
	}
	return entry, nil
}

// LatestLog returns the most recent log of an alert.
func (s *Service) LatestLog(ctx context.Context, alertID uint) (*entities.AlertLog, error) {
	if _, err := s.GetAlert(ctx, alertID); err != nil {
		return nil, err
	}
	entry, err := s.logs.LatestForAlert(ctx, alertID)
	if err != nil {
		return nil, repoError(err, "alert_id", alertID)
	}
	return entry, nil
}

func (s *Service) loadDevice(ctx context.Context, id uint) (*entities.Device, error) {
	device, err := s.devices.GetDevice(ctx, id)
	if err != nil {
		return nil, repoError(err, "device_id", id)
	}
	return device, nil
}

// setFlag updates a presence flag. The alert row is authoritative, so a
// failure here is logged rather than returned.
func (s *Service) setFlag(ctx context.Context, deviceID uint, field string, v bool) {
	column, ok := FlagColumn(field)
	if !ok {
		return
	}
	if err := s.devices.UpdateAlertStatus(ctx, deviceID, map[string]bool{column: v}); err != nil &&
		!errors.Is(err, repository.ErrDeviceNotFound) {
		s.log.Warn("failed to update device alert flag",
			logger.Uint64("device_id", uint64(deviceID)),
			logger.String("column", column),
			logger.Bool("value", v),
			logger.Error(err))
	}
}

// releaseFlag undoes a claim whose alert write failed.
func (s *Service) releaseFlag(ctx context.Context, deviceID uint, field string) {
	s.setFlag(context.WithoutCancel(ctx), deviceID, field, false)
}

// trackedFlag returns the presence flag that limits a device field to one
// alert. Pressure devices only track the pressure flag; other devices only
// temperature and humidity.
func trackedFlag(device *entities.Device, field string) (string, bool) {
	isPressure := device.Type == DeviceTypePressure
	switch field {
	case FieldTemperature, FieldRelativeHumidity:
		if isPressure {
			return "", false
		}
	case FieldPressure:
		if !isPressure {
			return "", false
		}
	default:
		return "", false
	}
	return FlagColumn(field)
}

// claimFlag reserves a tracked device field for an alert with a conditional
// flag update, so concurrent creates on one field have a single winner. It
// reports whether the field is tracked.
func (s *Service) claimFlag(ctx context.Context, device *entities.Device, field string) (bool, error) {
	column, ok := trackedFlag(device, field)
	if !ok {
		return false, nil
	}
	claimed, err := s.devices.ClaimAlertFlag(ctx, device.ID, column)
	if err != nil {
		return false, repoError(err, "device_id", device.ID)
	}
	if !claimed {
		return false, errors.Newf("device %d already has a %s alert", device.ID, field).
			Component("alerting").
			Category(errors.CategoryConflict).
			Context("device_id", device.ID).
			Context("field", field).
			Build()
	}
	return true, nil
}

// repoError maps repository sentinels to categorised errors.
func repoError(err error, key string, id uint) error {
	switch {
	case errors.Is(err, repository.ErrAlertNotFound),
		errors.Is(err, repository.ErrAlertLogNotFound),
		errors.Is(err, repository.ErrDeviceNotFound):
		return errors.New(err).
			Component("alerting").
			Category(errors.CategoryNotFound).
			Context(key, id).
			Build()
	case errors.Is(err, repository.ErrAlertLogAccepted):
		return errors.New(err).
			Component("alerting").
			Category(errors.CategoryConflict).
			Context(key, id).
			Build()
	default:
		return databaseError(err)
	}
}

func databaseError(err error) error {
	return errors.New(err).
		Component("alerting").
		Category(errors.CategoryDatabase).
		Build()
}
