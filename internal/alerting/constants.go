// Package alerting evaluates device telemetry against alert triggers, keeps
// per-alert condition state, and drives notification and acknowledgement.
package alerting

import "github.com/originsmart/facility-monitor/internal/datastore/repository"

// Trigger fields a device reports and an alert may watch.
const (
	FieldTemperature      = "temperature"
	FieldRelativeHumidity = "relativeHumidity"
	FieldPressure         = "pressure"
)

// Range types classify how a reading relates to the trigger bounds.
const (
	RangeLower   = "lower"
	RangeUpper   = "upper"
	RangeInside  = "inside"
	RangeOutside = "outside"
)

// Schedule types gate which days an alert evaluates.
const (
	ScheduleEveryday = "everyday"
	ScheduleWeekdays = "weekdays"
	ScheduleCustom   = "custom"
)

// Device types.
const (
	DeviceTypeHumidity = "humidity"
	DeviceTypeCold     = "cold"
	DeviceTypePressure = "pressure"
)

// Fields lists every watchable field in display order.
var Fields = []string{FieldTemperature, FieldRelativeHumidity, FieldPressure}

// RangeTypes lists every range type.
var RangeTypes = []string{RangeLower, RangeUpper, RangeInside, RangeOutside}

// ScheduleTypes lists every schedule type.
var ScheduleTypes = []string{ScheduleEveryday, ScheduleWeekdays, ScheduleCustom}

// DeviceTypes lists every device type.
var DeviceTypes = []string{DeviceTypeHumidity, DeviceTypeCold, DeviceTypePressure}

// FieldUnit returns the display unit of a field.
func FieldUnit(field string) string {
	switch field {
	case FieldTemperature:
		return "°C"
	case FieldRelativeHumidity:
		return "%"
	case FieldPressure:
		return "Pa"
	default:
		return ""
	}
}

// FieldLabel returns the human-readable name of a field.
func FieldLabel(field string) string {
	switch field {
	case FieldTemperature:
		return "Temperature"
	case FieldRelativeHumidity:
		return "Relative humidity"
	case FieldPressure:
		return "Pressure"
	default:
		return field
	}
}

// RangeSign returns the comparison a notification shows for a range type.
func RangeSign(rangeType string) string {
	switch rangeType {
	case RangeLower:
		return "<"
	case RangeUpper:
		return ">"
	case RangeInside:
		return "between"
	case RangeOutside:
		return "outside"
	default:
		return ""
	}
}

// FlagColumn returns the device alert-presence column for a field.
func FlagColumn(field string) (string, bool) {
	switch field {
	case FieldTemperature:
		return repository.ColumnTemperatureAlert, true
	case FieldRelativeHumidity:
		return repository.ColumnHumidityAlert, true
	case FieldPressure:
		return repository.ColumnPressureAlert, true
	default:
		return "", false
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
