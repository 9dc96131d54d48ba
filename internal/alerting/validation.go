package alerting

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/originsmart/facility-monitor/internal/datastore/entities"
	"github.com/originsmart/facility-monitor/internal/errors"
)

// ValidateAlert checks an alert definition and normalises it in place:
// bounds unused by the range type are dropped. All problems are reported
// together as one validation error.
func ValidateAlert(alert *entities.Alert) error {
	var problems []string

	if strings.TrimSpace(alert.Name) == "" {
		problems = append(problems, "name is required")
	}
	if alert.DeviceID == 0 {
		problems = append(problems, "device_id is required")
	}
	if !contains(Fields, alert.Trigger.Field) {
		problems = append(problems, fmt.Sprintf("trigger.field %q must be one of %s", alert.Trigger.Field, strings.Join(Fields, ", ")))
	}
	problems = append(problems, validateRange(&alert.Trigger.Range)...)
	if alert.Trigger.DurationMin < 0 {
		problems = append(problems, "trigger.duration must be zero or more minutes")
	}
	problems = append(problems, validateSchedule(alert)...)
	problems = append(problems, validateRecipients(alert.Recipients)...)

	if len(problems) == 0 {
		return nil
	}
	return errors.Newf("invalid alert: %s", strings.Join(problems, "; ")).
		Component("alerting").
		Category(errors.CategoryValidation).
		Context("problems", problems).
		Build()
}

func validateRange(r *entities.AlertRange) []string {
	var problems []string
	switch r.Type {
	case RangeLower:
		r.Upper = nil
		if r.Lower == nil {
			problems = append(problems, "trigger.range.lower is required for lower ranges")
		}
	case RangeUpper:
		r.Lower = nil
		if r.Upper == nil {
			problems = append(problems, "trigger.range.upper is required for upper ranges")
		}
	case RangeInside, RangeOutside:
		if r.Lower == nil || r.Upper == nil {
			problems = append(problems, fmt.Sprintf("trigger.range.lower and trigger.range.upper are required for %s ranges", r.Type))
		} else if *r.Lower > *r.Upper {
			problems = append(problems, "trigger.range.lower must not exceed trigger.range.upper")
		}
	default:
		problems = append(problems, fmt.Sprintf("trigger.range.type %q must be one of %s", r.Type, strings.Join(RangeTypes, ", ")))
	}
	return problems
}

func validateSchedule(alert *entities.Alert) []string {
	var problems []string
	if !contains(ScheduleTypes, alert.ScheduleType) {
		problems = append(problems, fmt.Sprintf("schedule_type %q must be one of %s", alert.ScheduleType, strings.Join(ScheduleTypes, ", ")))
	}
	if alert.ScheduleType == ScheduleCustom && len(alert.Weekdays) == 0 {
		problems = append(problems, "weekdays must not be empty for custom schedules")
	}

	seen := make(map[string]struct{}, len(alert.Weekdays))
	for _, day := range alert.Weekdays {
		if !Weekday(day).Valid() {
			problems = append(problems, fmt.Sprintf("weekday %q is not a day name", day))
			continue
		}
		if _, dup := seen[day]; dup {
			problems = append(problems, fmt.Sprintf("weekday %q is repeated", day))
		}
		seen[day] = struct{}{}
	}
	if alert.Weekdays == nil {
		alert.Weekdays = []string{}
	}
	return problems
}

func validateRecipients(recipients []string) []string {
	if len(recipients) == 0 {
		return []string{"recipients must not be empty"}
	}
	var problems []string
	for _, r := range recipients {
		addr, err := mail.ParseAddress(r)
		if err != nil || addr.Address != r {
			problems = append(problems, fmt.Sprintf("recipient %q is not an email address", r))
		}
	}
	return problems
}
