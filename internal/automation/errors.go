package automation

import "errors"

// Domain errors for the automation package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, automation.ErrActionTimeout) {
//	    // the watchdog gave up on the action
//	}
var (
	// ErrNoAction is returned when a trigger or timer is added without an action.
	ErrNoAction = errors.New("automation: no action")

	// ErrNoPattern is returned when a trigger is added without patterns.
	ErrNoPattern = errors.New("automation: no pattern")

	// ErrInvalidSchedule is returned when a timer field holds an out of range value.
	ErrInvalidSchedule = errors.New("automation: invalid schedule")

	// ErrActionTimeout is reported for an action the watchdog cleared.
	ErrActionTimeout = errors.New("automation: action exceeded time limit")

	// ErrDispatcherClosed is reported for occurrences discarded at shutdown.
	ErrDispatcherClosed = errors.New("automation: dispatcher closed")
)
