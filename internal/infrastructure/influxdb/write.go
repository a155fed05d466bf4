package influxdb

import (
	"sort"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by Fieldlink.
const (
	MeasurementSensor     = "sensor"
	MeasurementPower      = "power"
	MeasurementAutomation = "automation"
)

// WriteSensorReading mirrors one SENSOR entity reading, for example
// SI7021 {"Temperature":21.5,"Humidity":40}. Non-numeric values are dropped;
// a reading with no numeric or boolean values is not written.
func (c *Client) WriteSensorReading(clientID, entity string, data map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	if p := sensorPoint(clientID, entity, data, at); p != nil {
		c.writeAPI.WritePoint(p)
	}
}

// WritePowerEvent records a logged power transition as 1 (on) or 0 (off).
func (c *Client) WritePowerEvent(clientID, entity, power string, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(powerPoint(clientID, entity, power, at))
}

// WriteAutomationRun records one scheduled command attempt.
func (c *Client) WriteAutomationRun(ruleID, clientID, action string, success bool, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementAutomation,
		map[string]string{"rule_id": ruleID, "client_id": clientID, "action": action},
		map[string]any{"success": success},
		at,
	))
}

func sensorPoint(clientID, entity string, data map[string]any, at time.Time) *write.Point {
	fields := make(map[string]any, len(data))
	flattenFields(fields, "", data)
	if len(fields) == 0 {
		return nil
	}
	return write.NewPoint(
		MeasurementSensor,
		map[string]string{"client_id": clientID, "entity": entity},
		fields,
		at,
	)
}

func powerPoint(clientID, entity, power string, at time.Time) *write.Point {
	state := 0
	if strings.EqualFold(power, "on") {
		state = 1
	}
	return write.NewPoint(
		MeasurementPower,
		map[string]string{"client_id": clientID, "entity": entity},
		map[string]any{"state": state},
		at,
	)
}

// flattenFields copies numeric and boolean leaves of data into fields.
// Nested objects are joined with "_" (ENERGY.Today -> ENERGY_Today).
func flattenFields(fields map[string]any, prefix string, data map[string]any) {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		name := k
		if prefix != "" {
			name = prefix + "_" + k
		}
		switch v := data[k].(type) {
		case float64, int, int64, bool:
			fields[name] = v
		case map[string]any:
			flattenFields(fields, name, v)
		}
	}
}
