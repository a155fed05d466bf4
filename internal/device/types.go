package device

import "time"

// PlaceholderEntity is the entity name used for a device that has not yet
// reported any sensor entity. It is never registered by the sync sweep.
const PlaceholderEntity = "main"

// Known device families inferred from Tasmota client identifiers.
const (
	TypeTH     = "th"
	TypeBridge = "bridge"
	TypeSonoff = "sonoff"
)

// Device is one addressable (client, entity) pair known to Fieldlink.
//
// A single Tasmota client such as a multi-sensor bridge may expose several
// entities (SI7021, DS18B20, ...); each is registered separately.
type Device struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id"`
	Entity    string    `json:"entity"`
	Type      string    `json:"type,omitempty"`
	Owners    []string  `json:"owners,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Key identifies a device by its broker-side coordinates.
type Key struct {
	ClientID string
	Entity   string
}

// Key returns the (client, entity) key of d.
func (d *Device) Key() Key {
	return Key{ClientID: d.ClientID, Entity: d.Entity}
}

// HasOwner reports whether subjectID is listed as an owner of d.
func (d *Device) HasOwner(subjectID string) bool {
	for _, o := range d.Owners {
		if o == subjectID {
			return true
		}
	}
	return false
}

// Clone returns a copy of d that shares no slices with it.
func (d *Device) Clone() *Device {
	c := *d
	if d.Owners != nil {
		c.Owners = append([]string(nil), d.Owners...)
	}
	return &c
}
