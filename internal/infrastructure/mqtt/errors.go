package mqtt

import "errors"

// Broker errors. Failures returned by Publish, Subscribe, Unsubscribe and
// Connect wrap one of these; a missing broker ack additionally wraps
// ErrTimeout.
var (
	ErrNotConnected      = errors.New("mqtt: not connected to broker")
	ErrConnectionFailed  = errors.New("mqtt: broker connection failed")
	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")
	ErrTimeout           = errors.New("mqtt: broker did not acknowledge in time")

	// ErrInvalidQoS rejects anything outside 0..2.
	ErrInvalidQoS   = errors.New("mqtt: qos must be 0, 1 or 2")
	ErrInvalidTopic = errors.New("mqtt: empty topic")
)
