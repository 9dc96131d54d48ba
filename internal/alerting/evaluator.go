package alerting

import "github.com/originsmart/facility-monitor/internal/datastore/entities"

// IsConditionMet reports whether value satisfies the range. Bounds are
// inclusive for inside and strict for lower, upper and outside. An unknown
// type or a missing bound evaluates to false.
func IsConditionMet(r entities.AlertRange, value float64) bool {
	switch r.Type {
	case RangeInside:
		if r.Lower == nil || r.Upper == nil {
			return false
		}
		return value >= *r.Lower && value <= *r.Upper
	case RangeOutside:
		if r.Lower == nil || r.Upper == nil {
			return false
		}
		return value < *r.Lower || value > *r.Upper
	case RangeLower:
		if r.Lower == nil {
			return false
		}
		return value < *r.Lower
	case RangeUpper:
		if r.Upper == nil {
			return false
		}
		return value > *r.Upper
	default:
		return false
	}
}
