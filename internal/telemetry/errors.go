package telemetry

import "errors"

var (
	// ErrNoData is returned when neither a reading nor a status exists.
	ErrNoData = errors.New("telemetry: no data available")

	// ErrInvalidPower is returned when a power value cannot be stored.
	ErrInvalidPower = errors.New("telemetry: invalid power value")
)
