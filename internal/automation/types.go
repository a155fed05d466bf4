package automation

import "time"

// DefaultTimezone applies to rules created without a timezone.
const DefaultTimezone = "Asia/Ulaanbaatar"

// Action is the power command a rule issues.
type Action string

// Rule actions, in Tasmota spelling.
const (
	ActionOn  Action = "ON"
	ActionOff Action = "OFF"
)

// Rule switches a device on at OnTime and off at OffTime every day.
// Times are HH:mm in the rule's IANA timezone.
type Rule struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	OnTime    string    `json:"on_time"`
	OffTime   string    `json:"off_time"`
	Timezone  string    `json:"timezone"`
	Enabled   bool      `json:"enabled"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RulePatch carries the fields UpdateRule may change. Nil fields are kept.
type RulePatch struct {
	OnTime   *string `json:"on_time,omitempty"`
	OffTime  *string `json:"off_time,omitempty"`
	Timezone *string `json:"timezone,omitempty"`
	Enabled  *bool   `json:"enabled,omitempty"`
}

// ExecutionLog records one scheduled command attempt.
type ExecutionLog struct {
	ID         string    `json:"id"`
	RuleID     string    `json:"rule_id"`
	Action     Action    `json:"action"`
	Success    bool      `json:"success"`
	Message    string    `json:"message,omitempty"`
	ExecutedAt time.Time `json:"executed_at"`
}
