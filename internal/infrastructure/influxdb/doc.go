// Package influxdb mirrors Fieldlink telemetry into InfluxDB v2.
//
// SQLite is the system of record. When enabled, this package additionally
// writes every persisted sensor reading, logged power transition and
// automation run as a point so dashboards can chart device history:
//
//	sensor,client_id=VIOT_1A2B,entity=SI7021 Temperature=21.5,Humidity=40
//	power,client_id=sonoff_9F,entity=main state=1i
//	automation,rule_id=...,client_id=sonoff_9F,action=ON success=true
//
// Writes are batched and non-blocking; failures are reported through
// Client.SetOnError.
package influxdb
