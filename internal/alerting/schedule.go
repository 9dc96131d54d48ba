package alerting

import (
	"time"

	"github.com/originsmart/facility-monitor/internal/datastore/entities"
)

// Weekday is a lowercase English day name as stored on alerts.
type Weekday string

const (
	Monday    Weekday = "monday"
	Tuesday   Weekday = "tuesday"
	Wednesday Weekday = "wednesday"
	Thursday  Weekday = "thursday"
	Friday    Weekday = "friday"
	Saturday  Weekday = "saturday"
	Sunday    Weekday = "sunday"
)

// Weekdays lists every day, Monday first.
var Weekdays = []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

// indexed by time.Weekday
var weekdayNames = [7]Weekday{Sunday, Monday, Tuesday, Wednesday, Thursday, Friday, Saturday}

// Valid reports whether w is a known day name.
func (w Weekday) Valid() bool {
	for _, d := range Weekdays {
		if d == w {
			return true
		}
	}
	return false
}

// IsWeekend reports whether w is Saturday or Sunday.
func (w Weekday) IsWeekend() bool {
	return w == Saturday || w == Sunday
}

// CurrentWeekday returns the day of now in loc.
func CurrentWeekday(now time.Time, loc *time.Location) Weekday {
	if loc == nil {
		loc = time.UTC
	}
	return weekdayNames[now.In(loc).Weekday()]
}

// IsScheduleMatched reports whether the alert may evaluate on day.
func IsScheduleMatched(alert *entities.Alert, day Weekday) bool {
	switch alert.ScheduleType {
	case ScheduleEveryday:
		return true
	case ScheduleWeekdays:
		return !day.IsWeekend()
	case ScheduleCustom:
		return contains(alert.Weekdays, string(day))
	default:
		return false
	}
}

// EndOfDay returns the last millisecond of t's calendar day in loc.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), loc)
}

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
