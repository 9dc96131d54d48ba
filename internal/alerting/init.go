package alerting

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/originsmart/facility-monitor/internal/conf"
	"github.com/originsmart/facility-monitor/internal/datastore/repository"
	"github.com/originsmart/facility-monitor/internal/errors"
	"github.com/originsmart/facility-monitor/internal/logger"
	"github.com/originsmart/facility-monitor/internal/notification"
	"github.com/originsmart/facility-monitor/internal/observability/metrics"
)

// Deps are the collaborators of the alerting subsystem.
type Deps struct {
	Alerts  repository.AlertRepository
	Devices repository.DeviceRepository
	Logs    repository.AlertLogRepository
	Mailer  notification.Mailer
	Metrics *metrics.Metrics
	// Redis, when non-nil, backs the per-alert lock so several instances
	// can share one database.
	Redis redis.UniversalClient
}

// Components is the wired alerting subsystem.
type Components struct {
	Engine  *Engine
	Gateway *Gateway
	Service *Service
	Bus     *EventBus

	subscription uint64
}

// Initialize builds the event bus, engine, gateway and service and subscribes
// the engine to the bus. Background tasks start with Start.
func Initialize(s *conf.Settings, deps Deps, log logger.Logger) (*Components, error) {
	cfg, err := ConfigFromSettings(s.Alerting)
	if err != nil {
		return nil, err
	}

	gateway := NewGateway(deps.Mailer, deps.Logs, cfg.Location, log, WithGatewayMetrics(deps.Metrics))

	opts := []Option{WithMetrics(deps.Metrics)}
	if deps.Redis != nil {
		opts = append(opts, WithLocker(NewRedisLocker(deps.Redis, s.Redis.KeyPrefix, s.Redis.LockTTL.Std())))
	}
	engine := NewEngine(deps.Alerts, deps.Devices, deps.Logs, gateway, cfg, log, opts...)

	busLog := log.Module("eventbus")
	bus := NewEventBus(func(recovered any) {
		err := errors.New(fmt.Errorf("event handler panic: %v", recovered)).
			Component("alerting").
			Category(errors.CategoryInternal).
			Build()
		busLog.Error("recovered event handler panic", logger.Error(err))
	})

	c := &Components{
		Engine:  engine,
		Gateway: gateway,
		Service: NewService(deps.Alerts, deps.Devices, deps.Logs, engine, cfg.Location, log),
		Bus:     bus,
	}
	c.subscription = engine.Subscribe(bus)

	log.Info("alerting engine initialized",
		logger.String("timezone", cfg.Location.String()),
		logger.String("repeat_mode", cfg.Policy.Mode),
		logger.Bool("distributed_lock", deps.Redis != nil))
	return c, nil
}

// Start launches the engine's periodic tasks.
func (c *Components) Start() {
	c.Engine.Start()
}

// Close stops the periodic tasks, drains queued readings, waits for their
// notifications and detaches the engine from the bus.
func (c *Components) Close() {
	c.Engine.Stop()
	c.Bus.Stop()
	c.Engine.WaitForNotifications()
	c.Bus.Unsubscribe(c.subscription)
}
