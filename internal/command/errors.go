package command

import "errors"

var (
	// ErrNoDevice is returned when the target (client, entity) is not registered.
	ErrNoDevice = errors.New("command: no device available")

	// ErrNoResponse is returned when the device did not answer in time.
	// It is a timeout, not a business-rule failure.
	ErrNoResponse = errors.New("command: device did not respond in time")

	// ErrPublishFailed is returned when the command could not be published.
	ErrPublishFailed = errors.New("command: failed to send command")

	// ErrSubscribeFailed is returned when response topics could not be subscribed.
	ErrSubscribeFailed = errors.New("command: failed to subscribe to response topics")

	// ErrInvalidAction is returned for a power action other than ON or OFF.
	ErrInvalidAction = errors.New("command: invalid power action")
)
