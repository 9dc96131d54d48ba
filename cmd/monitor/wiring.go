package main

import (
	"github.com/originsmart/facility-monitor/internal/alerting"
	"github.com/originsmart/facility-monitor/internal/conf"
	"github.com/originsmart/facility-monitor/internal/datastore"
	"github.com/originsmart/facility-monitor/internal/datastore/repository"
	"github.com/originsmart/facility-monitor/internal/logger"
	"github.com/originsmart/facility-monitor/internal/notification"
)

// repositories groups the gorm repositories over one store.
type repositories struct {
	devices   repository.DeviceRepository
	alerts    repository.AlertRepository
	logs      repository.AlertLogRepository
	telemetry repository.TelemetryRepository
}

func newRepositories(store *datastore.Manager) repositories {
	db := store.DB()
	return repositories{
		devices:   repository.NewDeviceRepository(db),
		alerts:    repository.NewAlertRepository(db),
		logs:      repository.NewAlertLogRepository(db),
		telemetry: repository.NewTelemetryRepository(db),
	}
}

// newOfflineAlerting wires the alerting subsystem for one-shot commands
// that never send mail.
func newOfflineAlerting(s *conf.Settings, repos repositories, log logger.Logger) (*alerting.Components, error) {
	return alerting.Initialize(s, alerting.Deps{
		Alerts:  repos.alerts,
		Devices: repos.devices,
		Logs:    repos.logs,
		Mailer:  notification.NewLogMailer(log),
	}, log)
}
