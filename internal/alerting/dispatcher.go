package alerting

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/originsmart/facility-monitor/internal/datastore/entities"
	"github.com/originsmart/facility-monitor/internal/datastore/repository"
	"github.com/originsmart/facility-monitor/internal/errors"
	"github.com/originsmart/facility-monitor/internal/logger"
)

// Subscribe registers the engine on bus and returns the subscription ID.
func (e *Engine) Subscribe(bus *EventBus) uint64 {
	return bus.Subscribe(e.HandleFieldChanged)
}

// HandleFieldChanged is the EventBus handler. Errors are logged; the bus
// worker never sees them.
func (e *Engine) HandleFieldChanged(event FieldChanged) {
	ctx, cancel := context.WithTimeout(context.Background(), evaluateTimeout)
	defer cancel()
	if err := e.OnFieldUpdated(ctx, event.DeviceID, event.Field, event.NewValue); err != nil {
		e.log.Error("failed to evaluate reading",
			logger.Uint64("device_id", uint64(event.DeviceID)),
			logger.String("field", event.Field),
			logger.Float64("value", event.NewValue),
			logger.Error(err))
	}
}

// OnFieldUpdated evaluates every enabled alert watching field on deviceID
// and waits for all of them. Alerts are independent: one failing does not
// stop the others, and the first error is returned.
func (e *Engine) OnFieldUpdated(ctx context.Context, deviceID uint, field string, value float64) error {
	start := time.Now()
	defer func() { e.metrics.ObserveDispatch(time.Since(start)) }()

	ids, err := e.enabledAlertIDs(ctx, deviceID, field)
	if err != nil {
		return errors.New(err).
			Component("alerting").
			Category(errors.CategoryDatabase).
			Context("device_id", deviceID).
			Context("field", field).
			Build()
	}
	if len(ids) == 0 {
		return nil
	}

	var g errgroup.Group
	g.SetLimit(maxParallelEvaluations)
	for _, id := range ids {
		g.Go(func() error {
			return e.evaluateAlert(ctx, id, deviceID, field, value)
		})
	}
	return g.Wait()
}

// evaluateAlert applies one reading to one alert. A firing is committed
// before this returns; its mail goes out in the background.
func (e *Engine) evaluateAlert(ctx context.Context, id, deviceID uint, field string, value float64) error {
	fired, entry, err := e.transitionLocked(ctx, id, deviceID, field, value)
	if err != nil {
		e.log.Warn("alert evaluation failed",
			logger.Uint64("alert_id", uint64(id)),
			logger.String("field", field),
			logger.Error(err))
		return err
	}
	if fired != nil {
		e.notify(fired, entry)
	}
	return nil
}

// notify runs the fire side effects on a tracked goroutine so slow mail
// delivery never holds up evaluation or the event bus. At most
// maxConcurrentNotifications deliveries run at once.
func (e *Engine) notify(alert *entities.Alert, entry *entities.AlertLog) {
	e.notifyWG.Add(1)
	go func() {
		defer e.notifyWG.Done()
		e.notifySem <- struct{}{}
		defer func() { <-e.notifySem }()

		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		device := alert.Device
		if device == nil {
			var err error
			device, err = e.devices.GetDevice(ctx, alert.DeviceID)
			if err != nil {
				// The firing is committed; notify without device details.
				e.log.Warn("failed to load device of fired alert",
					logger.Uint64("alert_id", uint64(alert.ID)),
					logger.Error(err))
				device = &entities.Device{ID: alert.DeviceID}
			}
		}
		e.notifier.Fire(ctx, alert, device, entry)
	}()
}

// WaitForNotifications blocks until every started notification finishes.
func (e *Engine) WaitForNotifications() {
	e.notifyWG.Wait()
}

// transitionLocked runs the state machine under the alert lock and commits
// the result with compare-and-set, reloading on a stale version. A firing
// commits its alert log in the same transaction; the updated alert and that
// log are returned.
func (e *Engine) transitionLocked(ctx context.Context, id, deviceID uint, field string, value float64) (*entities.Alert, *entities.AlertLog, error) {
	unlock, err := e.locker.Lock(ctx, alertLockKey(id))
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	for attempt := 1; attempt <= maxStateAttempts; attempt++ {
		alert, err := e.alerts.GetAlert(ctx, id)
		if errors.Is(err, repository.ErrAlertNotFound) {
			e.InvalidateDevice(deviceID)
			return nil, nil, nil
		}
		if err != nil {
			return nil, nil, errors.New(err).
				Component("alerting").
				Category(errors.CategoryDatabase).
				Context("alert_id", id).
				Build()
		}
		// The cached list may lag an update made by another instance.
		if !alert.Enabled || alert.DeviceID != deviceID || alert.Trigger.Field != field {
			e.InvalidateDevice(deviceID)
			return nil, nil, nil
		}

		now := e.now()
		decision := Transition(repository.StateOf(alert), Input{
			Alert:   alert,
			Value:   value,
			Now:     now,
			Weekday: CurrentWeekday(now, e.cfg.Location),
			Policy:  e.cfg.Policy,
		})
		if !decision.Changed {
			e.metrics.ObserveEvaluation(string(decision.Outcome))
			return nil, nil, nil
		}

		var entry *entities.AlertLog
		if decision.Outcome == OutcomeFired {
			entry = &entities.AlertLog{AlertID: alert.ID, Field: field, Value: value}
			err = e.alerts.CommitFiring(ctx, alert.ID, alert.StateVersion, decision.State, entry)
		} else {
			err = e.alerts.CompareAndSwapState(ctx, alert.ID, alert.StateVersion, decision.State)
		}
		switch {
		case err == nil:
			e.metrics.ObserveEvaluation(string(decision.Outcome))
			e.log.Debug("alert state changed",
				logger.Uint64("alert_id", uint64(id)),
				logger.String("outcome", string(decision.Outcome)),
				logger.Float64("value", value))
			if decision.Outcome != OutcomeFired {
				return nil, nil, nil
			}
			applyState(alert, decision.State)
			return alert, entry, nil
		case errors.Is(err, repository.ErrStaleState):
			e.metrics.StateConflict()
			e.log.Debug("alert state changed concurrently, retrying",
				logger.Uint64("alert_id", uint64(id)),
				logger.Int("attempt", attempt))
		case errors.Is(err, repository.ErrAlertNotFound):
			e.InvalidateDevice(deviceID)
			return nil, nil, nil
		default:
			return nil, nil, errors.New(err).
				Component("alerting").
				Category(errors.CategoryDatabase).
				Context("alert_id", id).
				Build()
		}
	}

	return nil, nil, errors.New(fmt.Errorf("alert %d: %w after %d attempts", id, repository.ErrStaleState, maxStateAttempts)).
		Component("alerting").
		Category(errors.CategoryConflict).
		Context("alert_id", id).
		Build()
}

func applyState(alert *entities.Alert, s repository.AlertState) {
	alert.Active = s.Active
	alert.ConditionStartTime = s.ConditionStartTime
	alert.NumSent = s.NumSent
	alert.LastSentAt = s.LastSentAt
	alert.StateVersion++
}
