package entities

import "time"

// AlertLog records one firing of an alert. It is append-only apart from the
// single acknowledgement and free-text notes.
type AlertLog struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	AlertID    uint       `gorm:"not null;index:idx_alert_logs_alert_created,priority:1" json:"alert_id"`
	UserID     *string    `gorm:"size:64" json:"user_id"`
	Accepted   bool       `gorm:"not null;default:false;index" json:"accepted"`
	AcceptedAt *time.Time `json:"accepted_at"`
	Notes      string     `gorm:"type:text" json:"notes"`
	Field      string     `gorm:"size:32" json:"field"`
	Value      float64    `json:"value"`
	CreatedAt  time.Time  `gorm:"autoCreateTime;index:idx_alert_logs_alert_created,priority:2" json:"created_at"`
	Alert      *Alert     `gorm:"foreignKey:AlertID;constraint:OnDelete:CASCADE" json:"alert,omitempty"`
}

// TableName returns the table name for GORM.
func (AlertLog) TableName() string {
	return "alert_logs"
}
