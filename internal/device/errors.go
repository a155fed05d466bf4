package device

import "errors"

// Domain errors for the device package.
var (
	// ErrDeviceNotFound is returned when no device matches the lookup.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned by Repository.Create for a duplicate
	// (client_id, entity) pair. Registry.Register never returns it.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when a client ID or entity is malformed.
	ErrInvalidDevice = errors.New("device: invalid")
)
