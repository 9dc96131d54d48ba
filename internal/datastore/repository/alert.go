package repository

import (
	"context"
	"time"

	"github.com/originsmart/facility-monitor/internal/datastore/entities"
)

// AlertRepository handles alert definitions and the engine-owned state columns.
type AlertRepository interface {
	// CRUD
	ListAlerts(ctx context.Context, filter AlertFilter) ([]entities.Alert, int64, error)
	GetAlert(ctx context.Context, id uint) (*entities.Alert, error)
	CreateAlert(ctx context.Context, alert *entities.Alert) error
	UpdateAlert(ctx context.Context, alert *entities.Alert) error
	DeleteAlert(ctx context.Context, id uint) error

	// Engine
	ListEnabledAlertIDs(ctx context.Context, deviceID uint, field string) ([]uint, error)
	CompareAndSwapState(ctx context.Context, id uint, expectedVersion uint64, state AlertState) error
	// CommitFiring is CompareAndSwapState plus the insert of entry, in one
	// transaction. Neither is written if either fails.
	CommitFiring(ctx context.Context, id uint, expectedVersion uint64, state AlertState, entry *entities.AlertLog) error
	ResetDailyCounters(ctx context.Context) (int64, error)

	// Reporting
	GetStats(ctx context.Context) (*AlertStats, error)
}

// AlertFilter controls alert listing queries.
type AlertFilter struct {
	DeviceID uint
	Field    string
	Enabled  *bool
	Active   *bool
	Limit    int
	Offset   int
}

// AlertState is the set of columns the state machine writes.
type AlertState struct {
	Active             bool
	ConditionStartTime *time.Time
	NumSent            int
	LastSentAt         *time.Time
}

// StateOf extracts the state columns of an alert.
func StateOf(a *entities.Alert) AlertState {
	return AlertState{
		Active:             a.Active,
		ConditionStartTime: a.ConditionStartTime,
		NumSent:            a.NumSent,
		LastSentAt:         a.LastSentAt,
	}
}

// AlertStats summarises alert activity.
type AlertStats struct {
	TotalActiveAlerts    int64    `json:"total_active_alerts"`
	TotalNonActiveAlerts int64    `json:"total_non_active_alerts"`
	ActiveAlerts         []string `json:"active_alerts"`
}
