package mqtt

import "fmt"

// Tasmota topic prefixes. A device publishes telemetry under tele/, status
// replies under stat/ and listens for commands on cmnd/.
const (
	PrefixTelemetry = "tele"
	PrefixStat      = "stat"
	PrefixCommand   = "cmnd"

	// PrefixService is the root for topics owned by this service.
	PrefixService = "fieldlink"
)

// Tasmota topic suffixes.
const (
	SuffixSensor   = "SENSOR"
	SuffixState    = "STATE"
	SuffixLWT      = "LWT"
	SuffixResult   = "RESULT"
	SuffixPower    = "POWER"
	CommandPower   = "POWER"
	SingleLevelAny = "+"
)

// Topics provides builders for the topics Fieldlink consumes and produces.
//
//	t := mqtt.Topics{}
//	t.Telemetry("VIOT_1A2B", mqtt.SuffixSensor) // "tele/VIOT_1A2B/SENSOR"
//	t.Command("sonoff_9F", mqtt.CommandPower)   // "cmnd/sonoff_9F/POWER"
type Topics struct{}

// Telemetry returns tele/<deviceID>/<suffix>.
func (Topics) Telemetry(deviceID, suffix string) string {
	return fmt.Sprintf("%s/%s/%s", PrefixTelemetry, deviceID, suffix)
}

// Stat returns stat/<deviceID>/<suffix>.
func (Topics) Stat(deviceID, suffix string) string {
	return fmt.Sprintf("%s/%s/%s", PrefixStat, deviceID, suffix)
}

// Command returns cmnd/<deviceID>/<command>.
func (Topics) Command(deviceID, command string) string {
	return fmt.Sprintf("%s/%s/%s", PrefixCommand, deviceID, command)
}

// PowerResponses returns every topic a device may answer a POWER command
// on. Firmware variants reply on RESULT, on POWER, or on both.
func (t Topics) PowerResponses(deviceID string) []string {
	return []string{
		t.Stat(deviceID, SuffixResult),
		t.Stat(deviceID, SuffixPower),
	}
}

// IngestSubscriptions returns the wildcard patterns the ingestion pipeline
// subscribes to.
func (t Topics) IngestSubscriptions() []string {
	return []string{
		t.Telemetry(SingleLevelAny, SuffixState),
		t.Telemetry(SingleLevelAny, SuffixLWT),
		t.Telemetry(SingleLevelAny, SuffixSensor),
		t.Stat(SingleLevelAny, SuffixResult),
		t.Stat(SingleLevelAny, SuffixPower),
	}
}

// ServiceStatus is the retained presence topic for this service.
func (Topics) ServiceStatus() string {
	return PrefixService + "/status"
}
