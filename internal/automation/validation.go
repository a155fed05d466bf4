package automation

import (
	"fmt"
	"regexp"
	"time"
	_ "time/tzdata" // rules must resolve IANA zones on hosts without zoneinfo

	"github.com/google/uuid"
)

var clockPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// ValidateRule checks a rule's device, times and timezone.
// A rule whose on and off times are equal is rejected: it would switch the
// device both ways in the same minute.
func ValidateRule(r *Rule) error {
	if r == nil {
		return ErrInvalidRule
	}
	if r.DeviceID == "" {
		return fmt.Errorf("%w: device id is required", ErrInvalidRule)
	}
	if err := ValidateClock(r.OnTime); err != nil {
		return fmt.Errorf("on time: %w", err)
	}
	if err := ValidateClock(r.OffTime); err != nil {
		return fmt.Errorf("off time: %w", err)
	}
	if r.OnTime == r.OffTime {
		return fmt.Errorf("%w: on and off time are both %s", ErrInvalidRule, r.OnTime)
	}
	if _, err := time.LoadLocation(r.Timezone); err != nil || r.Timezone == "" {
		return fmt.Errorf("%w: unknown timezone %q", ErrInvalidRule, r.Timezone)
	}
	return nil
}

// ValidateClock checks a 24-hour HH:mm time of day.
func ValidateClock(s string) error {
	if !clockPattern.MatchString(s) {
		return fmt.Errorf("%w: %q is not HH:mm", ErrInvalidRule, s)
	}
	return nil
}

// GenerateID returns a new rule or log identifier.
func GenerateID() string {
	return uuid.NewString()
}
