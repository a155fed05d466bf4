// Package telemetry stores what devices report: the current status of each
// (client, entity), append-only sensor readings and deduplicated power logs.
//
// SQLiteStore is the write path used by the ingestion dispatcher. Service is
// the read path: latest readings for a device and access-scoped power logs.
package telemetry
