package alerting

import (
	"context"
	"time"

	"github.com/originsmart/facility-monitor/internal/logger"
)

const (
	// taskTimeout is the context deadline for one background task run.
	taskTimeout = 30 * time.Second
	// retentionInterval is how often old alert logs are pruned.
	retentionInterval = time.Hour
)

// Task names used in logs and metrics.
const (
	TaskOfflineSweep = "offline_sweep"
	TaskDailyReset   = "daily_reset"
	TaskLogRetention = "log_retention"
)

// Start launches the offline sweep, the daily counter reset and alert log
// retention. Calling Start on a running engine restarts the tasks.
func (e *Engine) Start() {
	e.Stop()

	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()
	e.stopCh = make(chan struct{})
	stopCh := e.stopCh

	e.tasksWG.Add(2)
	go e.runEvery(stopCh, e.cfg.OfflineInterval, TaskOfflineSweep, e.sweepOnce)
	go e.runDailyReset(stopCh)
	if e.cfg.LogRetentionDays > 0 {
		e.tasksWG.Add(1)
		go e.runEvery(stopCh, retentionInterval, TaskLogRetention, e.pruneOnce)
	}
	e.log.Info("alerting tasks started",
		logger.Duration("offline_interval", e.cfg.OfflineInterval),
		logger.String("daily_reset", e.cfg.DailyReset.String()),
		logger.Int("log_retention_days", e.cfg.LogRetentionDays))
}

// Stop halts the background tasks and waits for them to exit.
func (e *Engine) Stop() {
	e.tasksMu.Lock()
	ch := e.stopCh
	e.stopCh = nil
	e.tasksMu.Unlock()
	if ch != nil {
		close(ch)
	}
	e.tasksWG.Wait()
}

func (e *Engine) runEvery(stopCh <-chan struct{}, interval time.Duration, task string, run func(context.Context) error) {
	defer e.tasksWG.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.runTask(task, run)
		case <-stopCh:
			return
		}
	}
}

func (e *Engine) runDailyReset(stopCh <-chan struct{}) {
	defer e.tasksWG.Done()
	for {
		now := e.now()
		timer := time.NewTimer(e.cfg.DailyReset.Next(now, e.cfg.Location).Sub(now))
		select {
		case <-timer.C:
			e.runTask(TaskDailyReset, e.resetOnce)
		case <-stopCh:
			timer.Stop()
			return
		}
	}
}

func (e *Engine) runTask(task string, run func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
	defer cancel()
	err := run(ctx)
	e.metrics.TaskRun(task, err)
	if err != nil {
		e.log.Error("background task failed", logger.String("task", task), logger.Error(err))
	}
}

// SweepResult counts the devices changed by one offline sweep.
type SweepResult struct {
	MarkedOffline int64
	MarkedOnline  int64
}

// SweepOffline marks devices silent for longer than StaleAfter offline and
// fresher ones online.
func (e *Engine) SweepOffline(ctx context.Context) (SweepResult, error) {
	staleBefore := e.now().Add(-e.cfg.StaleAfter)
	var res SweepResult
	var err error
	if res.MarkedOffline, err = e.devices.MarkOffline(ctx, staleBefore); err != nil {
		return res, err
	}
	if res.MarkedOnline, err = e.devices.MarkOnline(ctx, staleBefore); err != nil {
		return res, err
	}
	e.metrics.DevicesMarked("offline", res.MarkedOffline)
	e.metrics.DevicesMarked("online", res.MarkedOnline)
	if res.MarkedOffline > 0 || res.MarkedOnline > 0 {
		e.log.Info("device offline sweep",
			logger.Int64("offline", res.MarkedOffline),
			logger.Int64("online", res.MarkedOnline))
	}
	return res, nil
}

func (e *Engine) sweepOnce(ctx context.Context) error {
	_, err := e.SweepOffline(ctx)
	return err
}

// ResetDaily zeroes every alert's daily notification counter.
func (e *Engine) ResetDaily(ctx context.Context) (int64, error) {
	n, err := e.alerts.ResetDailyCounters(ctx)
	if err != nil {
		return 0, err
	}
	e.log.Info("daily alert counters reset", logger.Int64("alerts", n))
	return n, nil
}

func (e *Engine) resetOnce(ctx context.Context) error {
	_, err := e.ResetDaily(ctx)
	return err
}

// PruneLogs deletes alert logs older than LogRetentionDays. It is a no-op
// when retention is disabled.
func (e *Engine) PruneLogs(ctx context.Context) (int64, error) {
	if e.cfg.LogRetentionDays <= 0 {
		return 0, nil
	}
	cutoff := e.now().AddDate(0, 0, -e.cfg.LogRetentionDays)
	deleted, err := e.logs.DeleteLogsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		e.log.Info("alert log cleanup completed",
			logger.Int64("deleted", deleted),
			logger.Int("retention_days", e.cfg.LogRetentionDays))
	}
	return deleted, nil
}

func (e *Engine) pruneOnce(ctx context.Context) error {
	_, err := e.PruneLogs(ctx)
	return err
}
