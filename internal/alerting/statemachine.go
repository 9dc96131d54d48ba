package alerting

import (
	"time"

	"github.com/originsmart/facility-monitor/internal/conf"
	"github.com/originsmart/facility-monitor/internal/datastore/entities"
	"github.com/originsmart/facility-monitor/internal/datastore/repository"
)

// DefaultMaxPerDay caps notifications per alert per day in repeat mode.
const DefaultMaxPerDay = 3

// Policy decides whether a sustained condition may fire again.
type Policy struct {
	// Mode is conf.RepeatModeAcknowledge or conf.RepeatModeRepeat.
	Mode      string
	MaxPerDay int
}

// AcknowledgePolicy fires once and waits for acknowledgement.
func AcknowledgePolicy() Policy {
	return Policy{Mode: conf.RepeatModeAcknowledge}
}

// allows reports whether an alert with the given state may fire.
func (p Policy) allows(state repository.AlertState) bool {
	if p.Mode == conf.RepeatModeRepeat {
		limit := p.MaxPerDay
		if limit <= 0 {
			limit = DefaultMaxPerDay
		}
		return state.NumSent < limit
	}
	return !state.Active
}

// Outcome names the transition taken.
type Outcome string

const (
	// OutcomeNone means the condition is not met and no timer was running.
	OutcomeNone Outcome = "none"
	// OutcomeReset means a running sustain timer was cleared.
	OutcomeReset Outcome = "reset"
	// OutcomeArmed means the sustain timer started.
	OutcomeArmed Outcome = "armed"
	// OutcomePending means the timer is running and has not elapsed.
	OutcomePending Outcome = "pending"
	// OutcomeSuppressed means the condition holds but the policy blocks
	// firing.
	OutcomeSuppressed Outcome = "suppressed"
	// OutcomeFired means the alert fired.
	OutcomeFired Outcome = "fired"
)

// Input is everything Transition needs besides the current state.
type Input struct {
	Alert   *entities.Alert
	Value   float64
	Now     time.Time
	Weekday Weekday
	Policy  Policy
}

// Decision is the result of a transition.
type Decision struct {
	State   repository.AlertState
	Outcome Outcome
	// Changed is false when State equals the input state and nothing needs
	// to be written.
	Changed bool
}

// Transition computes the next condition state of an alert for one reading.
func Transition(state repository.AlertState, in Input) Decision {
	next := state

	if !IsScheduleMatched(in.Alert, in.Weekday) || !IsConditionMet(in.Alert.Trigger.Range, in.Value) {
		if state.ConditionStartTime == nil {
			return Decision{State: next, Outcome: OutcomeNone}
		}
		next.ConditionStartTime = nil
		return Decision{State: next, Outcome: OutcomeReset, Changed: true}
	}

	// A blocked alert runs no sustain timer, so a fresh period starts once
	// acknowledgement or the daily reset lets it fire again.
	if !in.Policy.allows(state) {
		if state.ConditionStartTime == nil {
			return Decision{State: next, Outcome: OutcomeSuppressed}
		}
		next.ConditionStartTime = nil
		return Decision{State: next, Outcome: OutcomeSuppressed, Changed: true}
	}

	if next.ConditionStartTime == nil {
		start := in.Now
		next.ConditionStartTime = &start
	}

	sustain := time.Duration(in.Alert.Trigger.DurationMin) * time.Minute
	if in.Now.Sub(*next.ConditionStartTime) < sustain {
		if state.ConditionStartTime == nil {
			return Decision{State: next, Outcome: OutcomeArmed, Changed: true}
		}
		return Decision{State: next, Outcome: OutcomePending}
	}

	sentAt := in.Now
	next.Active = true
	next.ConditionStartTime = nil
	next.NumSent = state.NumSent + 1
	next.LastSentAt = &sentAt
	return Decision{State: next, Outcome: OutcomeFired, Changed: true}
}
