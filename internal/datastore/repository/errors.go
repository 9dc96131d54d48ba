package repository

import "github.com/originsmart/facility-monitor/internal/errors"

var (
	// ErrAlertNotFound is returned when an alert ID does not exist.
	ErrAlertNotFound = errors.NewStd("alert not found")
	// ErrAlertLogNotFound is returned when an alert log ID does not exist.
	ErrAlertLogNotFound = errors.NewStd("alert log not found")
	// ErrAlertLogAccepted is returned when acknowledging a log that was already accepted.
	ErrAlertLogAccepted = errors.NewStd("alert log already accepted")
	// ErrDeviceNotFound is returned when a device ID or OEM does not exist.
	ErrDeviceNotFound = errors.NewStd("device not found")
	// ErrStaleState is returned by a compare-and-swap whose expected version
	// no longer matches the stored row.
	ErrStaleState = errors.NewStd("alert state changed concurrently")
)
