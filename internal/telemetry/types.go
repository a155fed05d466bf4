package telemetry

import (
	"encoding/json"
	"strings"
	"time"
)

// Power is the stored relay state of a device.
type Power string

// Power values. The wire form is upper case (ON/OFF); storage is lower case.
const (
	PowerOn      Power = "on"
	PowerOff     Power = "off"
	PowerUnknown Power = "unknown"
)

// ParsePower maps an exact Tasmota power word to a Power.
// Anything other than "ON" or "OFF" is rejected.
func ParsePower(s string) (Power, bool) {
	switch s {
	case "ON":
		return PowerOn, true
	case "OFF":
		return PowerOff, true
	default:
		return "", false
	}
}

// Wire returns the Tasmota spelling of p ("ON", "OFF").
func (p Power) Wire() string {
	switch p {
	case PowerOn:
		return "ON"
	case PowerOff:
		return "OFF"
	default:
		return ""
	}
}

// Connectivity is the last known link state of a device.
type Connectivity string

// Connectivity values.
const (
	Connected    Connectivity = "connected"
	Disconnected Connectivity = "disconnected"
	Errored      Connectivity = "error"
	Offline      Connectivity = "offline"
)

// Status is the current state of one (client, entity) pair.
// There is at most one Status per pair.
type Status struct {
	ClientID     string       `json:"client_id"`
	Entity       string       `json:"entity"`
	Power        Power        `json:"power"`
	Connectivity Connectivity `json:"connectivity"`
	Message      string       `json:"message,omitempty"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// SensorReading is one entity's readings from a SENSOR message.
type SensorReading struct {
	ID         int64          `json:"id"`
	ClientID   string         `json:"client_id"`
	Entity     string         `json:"entity"`
	Data       map[string]any `json:"data"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// PowerLog is an append-only record of an observed power transition.
type PowerLog struct {
	ID         int64     `json:"id"`
	ClientID   string    `json:"client_id"`
	Entity     string    `json:"entity"`
	Power      Power     `json:"power"`
	RecordedAt time.Time `json:"recorded_at"`
}

// EventClientID scopes a power.logged event to its device.
func (l PowerLog) EventClientID() string { return l.ClientID }

// Snapshot pairs the newest sensor reading with the current status.
// Either may be nil, but not both.
type Snapshot struct {
	Sensor *SensorReading `json:"sensor,omitempty"`
	Status *Status        `json:"status,omitempty"`
}

// PowerFromJSON extracts the relay state from a Tasmota RESULT or STATE
// payload. Firmware reports it as POWER or, on multi-relay builds, POWER1.
func PowerFromJSON(payload []byte) (Power, bool) {
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		return "", false
	}
	for _, key := range []string{"POWER", "POWER1"} {
		if s, ok := body[key].(string); ok && s != "" {
			return ParsePower(s)
		}
	}
	return "", false
}

// ParsePowerPayload accepts either a JSON object with a power field or a
// bare ON/OFF word, as seen on stat/<id>/RESULT and stat/<id>/POWER.
func ParsePowerPayload(payload []byte) (Power, bool) {
	if p, ok := PowerFromJSON(payload); ok {
		return p, true
	}
	return ParsePower(strings.TrimSpace(string(payload)))
}
