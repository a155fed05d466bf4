// Package logging provides structured logging for Fieldlink Core.
//
// It wraps log/slog so that every record carries the service name and
// build version, and so that subsystems can tag their output with a
// component attribute.
//
// Logging is configured via the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("ingest").Info("device online", "client_id", id)
//
// Never log broker passwords, JWTs or InfluxDB tokens.
package logging
