// Package api serves the operational HTTP surface of Fieldlink Core.
//
// It exposes:
//   - GET /api/v1/health: process version plus database and MQTT health
//   - GET /api/v1/devices/connected: the live device session snapshot
//   - GET /api/v1/ws: a WebSocket stream of device.status, power.logged
//     and automation.fired events. Admins see every device; other
//     subjects see only devices they owned when the stream was opened.
//
// The connected-device listing and the WebSocket stream require an access
// token, sent as "Authorization: Bearer <token>" or, for WebSocket clients
// that cannot set headers, as the token query parameter.
//
// The Hub is created before the server so ingestion and automation can
// broadcast into it from startup; see NewHub.
package api
