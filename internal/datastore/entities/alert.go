package entities

import "time"

// Alert is a standing watch on one field of one device.
//
// Active, ConditionStartTime, NumSent and LastSentAt are owned by the alert
// engine; every write to them bumps StateVersion so concurrent evaluators can
// detect stale reads.
type Alert struct {
	ID                 uint         `gorm:"primaryKey" json:"id"`
	Name               string       `gorm:"size:255;not null" json:"name"`
	DeviceID           uint         `gorm:"not null;index:idx_alerts_lookup,priority:1" json:"device_id"`
	Trigger            AlertTrigger `gorm:"embedded;embeddedPrefix:trigger_" json:"trigger"`
	ScheduleType       string       `gorm:"size:20;not null" json:"schedule_type"`
	Weekdays           []string     `gorm:"serializer:json;type:text" json:"weekdays"`
	Recipients         []string     `gorm:"serializer:json;type:text" json:"recipients"`
	Enabled            bool         `gorm:"not null;index:idx_alerts_lookup,priority:3" json:"enabled"`
	Active             bool         `gorm:"not null;default:false" json:"active"`
	ConditionStartTime *time.Time   `json:"condition_start_time"`
	NumSent            int          `gorm:"not null;default:0" json:"num_sent"`
	LastSentAt         *time.Time   `json:"last_sent_at"`
	StateVersion       uint64       `gorm:"not null;default:0" json:"-"`
	CreatedAt          time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
	Device             *Device      `gorm:"foreignKey:DeviceID;constraint:OnDelete:CASCADE" json:"device,omitempty"`
}

// TableName returns the table name for GORM.
func (Alert) TableName() string {
	return "alerts"
}

// AlertTrigger is the field, range and sustain duration an alert watches.
type AlertTrigger struct {
	Field string     `gorm:"size:32;not null;index:idx_alerts_lookup,priority:2" json:"field"`
	Range AlertRange `gorm:"embedded;embeddedPrefix:range_" json:"range"`
	// DurationMin is the sustain duration in minutes.
	DurationMin int `gorm:"column:duration;not null;default:0" json:"duration"`
}

// AlertRange holds the bounds compared against a reading.
type AlertRange struct {
	Type  string   `gorm:"size:16;not null" json:"type"`
	Lower *float64 `json:"lower,omitempty"`
	Upper *float64 `json:"upper,omitempty"`
}
