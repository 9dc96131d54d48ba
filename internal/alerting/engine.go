package alerting

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/originsmart/facility-monitor/internal/conf"
	"github.com/originsmart/facility-monitor/internal/datastore/entities"
	"github.com/originsmart/facility-monitor/internal/datastore/repository"
	"github.com/originsmart/facility-monitor/internal/logger"
	"github.com/originsmart/facility-monitor/internal/observability/metrics"
)

const (
	// evaluateTimeout is the context deadline for one bus-delivered reading.
	evaluateTimeout = 30 * time.Second
	// maxStateAttempts bounds compare-and-set retries per alert and reading.
	maxStateAttempts = 3
	// maxParallelEvaluations caps concurrent alert evaluations per reading.
	maxParallelEvaluations = 8
	// notifyTimeout bounds the mail delivery of one fired alert, retries
	// included.
	notifyTimeout = 2 * time.Minute
	// maxConcurrentNotifications caps fired alerts being delivered at once.
	maxConcurrentNotifications = 16

	defaultLookupCacheTTL  = time.Minute
	defaultOfflineInterval = 10 * time.Second
	defaultStaleAfter      = 12 * time.Hour
)

// Notifier delivers a fired alert whose log entry is already stored.
// Implementations swallow delivery failures.
type Notifier interface {
	Fire(ctx context.Context, alert *entities.Alert, device *entities.Device, entry *entities.AlertLog)
}

// Config holds engine tuning.
type Config struct {
	Location        *time.Location
	Policy          Policy
	DailyReset      conf.ClockTime
	OfflineInterval time.Duration
	StaleAfter      time.Duration
	// LogRetentionDays of 0 keeps alert logs forever.
	LogRetentionDays int
	LookupCacheTTL   time.Duration
}

// DefaultConfig returns acknowledge mode in UTC with a midnight reset.
func DefaultConfig() Config {
	return Config{
		Location:        time.UTC,
		Policy:          AcknowledgePolicy(),
		OfflineInterval: defaultOfflineInterval,
		StaleAfter:      defaultStaleAfter,
		LookupCacheTTL:  defaultLookupCacheTTL,
	}
}

// ConfigFromSettings builds a Config from the alerting section.
func ConfigFromSettings(s conf.AlertingSettings) (Config, error) {
	loc, err := s.Location()
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Location:         loc,
		Policy:           Policy{Mode: s.Repeat.Mode, MaxPerDay: s.Repeat.MaxPerDay},
		DailyReset:       s.DailyReset,
		OfflineInterval:  s.OfflineSweep.Interval.Std(),
		StaleAfter:       s.OfflineSweep.StaleAfter.Std(),
		LogRetentionDays: s.LogRetentionDays,
		LookupCacheTTL:   s.LookupCacheTTL.Std(),
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.Policy.Mode == "" {
		c.Policy.Mode = conf.RepeatModeAcknowledge
	}
	if c.OfflineInterval <= 0 {
		c.OfflineInterval = defaultOfflineInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = defaultStaleAfter
	}
	if c.LookupCacheTTL <= 0 {
		c.LookupCacheTTL = defaultLookupCacheTTL
	}
	return c
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocker replaces the in-process per-alert lock, e.g. with a RedisLocker
// when several instances share a database.
func WithLocker(l Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics records engine activity.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine evaluates readings against alerts and runs the engine's periodic
// tasks.
type Engine struct {
	alerts   repository.AlertRepository
	devices  repository.DeviceRepository
	logs     repository.AlertLogRepository
	notifier Notifier
	cfg      Config
	locker   Locker
	now      func() time.Time
	metrics  *metrics.Metrics
	log      logger.Logger

	// Enabled alert IDs keyed by device and field. lookupGen is bumped on
	// every invalidation so an in-flight fill never stores a stale list.
	lookup      *gocache.Cache
	lookupGroup singleflight.Group
	lookupGen   atomic.Uint64

	// In-flight notifications
	notifyWG  sync.WaitGroup
	notifySem chan struct{}

	// Background tasks
	tasksMu sync.Mutex
	stopCh  chan struct{}
	tasksWG sync.WaitGroup
}

// NewEngine creates an engine.
func NewEngine(
	alerts repository.AlertRepository,
	devices repository.DeviceRepository,
	logs repository.AlertLogRepository,
	notifier Notifier,
	cfg Config,
	log logger.Logger,
	opts ...Option,
) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		alerts:    alerts,
		devices:   devices,
		logs:      logs,
		notifier:  notifier,
		cfg:       cfg,
		locker:    NewKeyedMutex(),
		now:       time.Now,
		log:       log.Module("alerting"),
		notifySem: make(chan struct{}, maxConcurrentNotifications),
		// No janitor: the key space is bounded by devices times fields and
		// Get already ignores expired entries.
		lookup: gocache.New(cfg.LookupCacheTTL, 0),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

func lookupKey(deviceID uint, field string) string {
	return fmt.Sprintf("%d:%s", deviceID, field)
}

func alertLockKey(id uint) string {
	return fmt.Sprintf("alert:%d", id)
}

// enabledAlertIDs returns the cached IDs of enabled alerts for one device
// field, loading them once per key on a miss.
func (e *Engine) enabledAlertIDs(ctx context.Context, deviceID uint, field string) ([]uint, error) {
	key := lookupKey(deviceID, field)
	if v, ok := e.lookup.Get(key); ok {
		return v.([]uint), nil
	}

	v, err, _ := e.lookupGroup.Do(key, func() (any, error) {
		gen := e.lookupGen.Load()
		ids, err := e.alerts.ListEnabledAlertIDs(ctx, deviceID, field)
		if err != nil {
			return nil, err
		}
		if e.lookupGen.Load() == gen {
			e.lookup.Set(key, ids, gocache.DefaultExpiration)
		}
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]uint), nil
}

// InvalidateDevice drops the cached alert lists of one device.
func (e *Engine) InvalidateDevice(deviceID uint) {
	e.lookupGen.Add(1)
	for _, field := range Fields {
		e.lookup.Delete(lookupKey(deviceID, field))
	}
}

// InvalidateAll drops every cached alert list.
func (e *Engine) InvalidateAll() {
	e.lookupGen.Add(1)
	e.lookup.Flush()
}
