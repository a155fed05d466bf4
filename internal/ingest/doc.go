// Package ingest turns Tasmota MQTT traffic into stored telemetry.
//
// Inbound topics are matched by position (tele/<id>/SENSOR, stat/<id>/POWER,
// ...). Each message touches the in-memory SessionRegistry, then:
//
//   - SENSOR: every object-valued key except "Time" becomes a SensorReading
//   - POWER: an exact ON/OFF is debounced, logged and written to status
//   - RESULT/STATE: POWER or POWER1 updates status
//   - LWT: Online/Offline updates connectivity without touching power
//
// Writes are best effort. Failures are logged and the next message is
// processed normally.
//
// The Syncer turns observed (client, entity) pairs into registered devices,
// periodically and shortly after each burst of SENSOR messages.
package ingest
