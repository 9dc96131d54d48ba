package repository

import (
	"context"
	"time"

	"github.com/originsmart/facility-monitor/internal/datastore/entities"
)

// AlertLogRepository handles the audit trail of fired alerts.
type AlertLogRepository interface {
	CreateLog(ctx context.Context, log *entities.AlertLog) error
	GetLog(ctx context.Context, id uint) (*entities.AlertLog, error)
	ListLogs(ctx context.Context, filter AlertLogFilter) ([]entities.AlertLog, int64, error)
	UpdateNotes(ctx context.Context, id uint, notes string) (*entities.AlertLog, error)
	LatestForAlert(ctx context.Context, alertID uint) (*entities.AlertLog, error)
	DeleteLogsBefore(ctx context.Context, before time.Time) (int64, error)

	// AcceptLog marks the log accepted by userID and deactivates its alert in
	// one transaction. Returns ErrAlertLogNotFound for an unknown ID and
	// ErrAlertLogAccepted if the log was already accepted.
	AcceptLog(ctx context.Context, id uint, userID string, at time.Time) (*entities.AlertLog, error)
}

// AlertLogFilter controls log listing queries. From and To are inclusive.
type AlertLogFilter struct {
	AlertID  uint
	Accepted *bool
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}
