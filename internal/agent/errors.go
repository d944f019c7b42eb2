package agent

import "errors"

// Sentinel errors for device-side operations.
var (
	// ErrNotRegistered is returned when the hub has no twin for the device.
	ErrNotRegistered = errors.New("agent: device not registered")

	// ErrTimeout is returned when the hub does not answer a request in time.
	ErrTimeout = errors.New("agent: request timed out")

	// ErrRejected is returned when the hub answers a request with an error.
	ErrRejected = errors.New("agent: request rejected by hub")

	// ErrPublishFailed wraps a failure to deliver reported properties.
	ErrPublishFailed = errors.New("agent: reported properties not published")

	// ErrInvalidDelta is returned for desired deltas the agent cannot apply.
	ErrInvalidDelta = errors.New("agent: invalid desired delta")
)
