package entities

import "time"

// Device is a sensor with its latest readings. Readings are written only by
// ingestion; the alert engine reads them.
type Device struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	OEM              string         `gorm:"size:100;not null;uniqueIndex" json:"oem"`
	Slug             *string        `gorm:"size:100;uniqueIndex" json:"slug,omitempty"`
	Name             string         `gorm:"size:255;not null" json:"name"`
	Type             string         `gorm:"size:20;not null;index" json:"type"`
	Temperature      *float64       `json:"temperature"`
	RelativeHumidity *float64       `json:"relative_humidity"`
	Pressure         *float64       `json:"pressure"`
	SignalStrength   *int           `json:"signal_strength,omitempty"`
	LastUpdated      *time.Time     `gorm:"index" json:"last_updated"`
	IsOffline        bool           `gorm:"not null;default:false;index" json:"is_offline"`
	TemperatureAlert bool           `gorm:"not null;default:false" json:"temperature_alert"`
	HumidityAlert    bool           `gorm:"not null;default:false" json:"humidity_alert"`
	PressureAlert    bool           `gorm:"not null;default:false" json:"pressure_alert"`
	Location         DeviceLocation `gorm:"embedded;embeddedPrefix:location_" json:"location"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Device) TableName() string {
	return "devices"
}

// DeviceLocation is an optional geographic position.
type DeviceLocation struct {
	Lat  *float64 `json:"lat,omitempty"`
	Long *float64 `json:"long,omitempty"`
}

// DeviceStats summarises the fleet.
type DeviceStats struct {
	TotalDevices            int64    `json:"total_devices"`
	HighestTemperature      *float64 `json:"highest_temperature"`
	HighestRelativeHumidity *float64 `json:"highest_relative_humidity"`
}
