package entities

import "time"

// TelemetryEvent is the raw record of one accepted ingestion payload.
type TelemetryEvent struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	DeviceOEM        string    `gorm:"size:100;not null;index:idx_telemetry_device_time,priority:1" json:"device_oem"`
	EventType        string    `gorm:"size:50;not null;default:''" json:"event_type"`
	Temperature      *float64  `json:"temperature,omitempty"`
	RelativeHumidity *float64  `json:"relative_humidity,omitempty"`
	Pressure         *float64  `json:"pressure,omitempty"`
	UpdateTime       time.Time `gorm:"not null;index:idx_telemetry_device_time,priority:2" json:"update_time"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for GORM.
func (TelemetryEvent) TableName() string {
	return "telemetry_events"
}
