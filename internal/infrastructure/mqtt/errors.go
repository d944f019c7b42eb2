package mqtt

import "errors"

// Connection state.
var (
	// ErrConnectionFailed wraps the broker's refusal, or a connect timeout.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrNotConnected is returned while the broker link is down. Twin bus
	// publishes fail with it rather than queueing inside paho.
	ErrNotConnected = errors.New("mqtt: client not connected")
)

// Operation failures. The broker's error is wrapped alongside.
var (
	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")
	ErrTimeout           = errors.New("mqtt: operation timed out")
)

// Argument validation.
var (
	ErrInvalidQoS   = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)
