package automation

import "errors"

// Domain errors for the automation package.
//
//	if errors.Is(err, automation.ErrDuplicateRule) {
//	    // same device already has this on/off pair
//	}
var (
	// ErrRuleNotFound is returned when a rule ID does not exist.
	ErrRuleNotFound = errors.New("automation: rule not found")

	// ErrDuplicateRule is returned when a device already has a rule with
	// the same on and off times.
	ErrDuplicateRule = errors.New("automation: duplicate time rule")

	// ErrInvalidRule is returned when rule validation fails.
	ErrInvalidRule = errors.New("automation: invalid rule")

	// ErrAccessDenied is returned when the caller neither owns the device
	// nor is an admin, or the device does not exist.
	ErrAccessDenied = errors.New("automation: device not found or access denied")

	// ErrTickInProgress is returned by Scheduler.Tick when the previous
	// tick has not finished.
	ErrTickInProgress = errors.New("automation: tick already in progress")
)
