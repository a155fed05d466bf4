package ingest

import (
	"strings"

	"github.com/nerrad567/fieldlink-core/internal/device"
	"github.com/nerrad567/fieldlink-core/internal/infrastructure/mqtt"
)

// Kind is the channel a matched topic belongs to.
type Kind int

// Topic kinds. KindUnmatched is the zero value.
const (
	KindUnmatched Kind = iota
	KindSensor
	KindPower
	KindResult
	KindState
	KindLastWill
)

// String returns the Tasmota suffix for k, or "unmatched".
func (k Kind) String() string {
	switch k {
	case KindSensor:
		return mqtt.SuffixSensor
	case KindPower:
		return mqtt.SuffixPower
	case KindResult:
		return mqtt.SuffixResult
	case KindState:
		return mqtt.SuffixState
	case KindLastWill:
		return mqtt.SuffixLWT
	default:
		return "unmatched"
	}
}

// Event is the structured form of a matched topic.
type Event struct {
	Kind     Kind
	ClientID string
}

// topicParts is the fixed depth of every Tasmota topic we consume.
const topicParts = 3

// Match maps a topic such as "tele/VIOT_1A2B/SENSOR" to an Event.
// Only exact three-segment topics with a non-empty client ID match.
func Match(topic string) Event {
	parts := strings.Split(topic, "/")
	if len(parts) != topicParts || parts[1] == "" {
		return Event{}
	}

	var kind Kind
	switch parts[0] {
	case mqtt.PrefixTelemetry:
		switch parts[2] {
		case mqtt.SuffixSensor:
			kind = KindSensor
		case mqtt.SuffixState:
			kind = KindState
		case mqtt.SuffixLWT:
			kind = KindLastWill
		}
	case mqtt.PrefixStat:
		switch parts[2] {
		case mqtt.SuffixPower:
			kind = KindPower
		case mqtt.SuffixResult:
			kind = KindResult
		}
	}

	if kind == KindUnmatched {
		return Event{}
	}
	return Event{Kind: kind, ClientID: parts[1]}
}

// typePrefixes maps client ID prefixes to device families.
var typePrefixes = []struct {
	prefix string
	typ    string
}{
	{"VIOT_", device.TypeTH},
	{"tasmota_", device.TypeBridge},
	{"sonoff_", device.TypeSonoff},
}

// InferType guesses a device family from its client ID, falling back to the
// second "_"-separated field of the broker username ("site_TH_07" -> "th").
// It returns "" when nothing is recognised.
func InferType(clientID, username string) string {
	for _, p := range typePrefixes {
		if strings.HasPrefix(clientID, p.prefix) {
			return p.typ
		}
	}
	if fields := strings.Split(username, "_"); len(fields) > 1 {
		return strings.ToLower(fields[1])
	}
	return ""
}
