package bus

import "errors"

// Domain-specific errors for bus operations.
var (
	// ErrClosed is returned when publishing or subscribing on a closed bus.
	ErrClosed = errors.New("bus: closed")

	// ErrInvalidTopic is returned for topics outside the twin layout.
	ErrInvalidTopic = errors.New("bus: invalid topic")

	// ErrAlreadySubscribed is returned when a pattern already has a handler.
	ErrAlreadySubscribed = errors.New("bus: already subscribed")

	// ErrNotSubscribed is returned when unsubscribing an unknown pattern.
	ErrNotSubscribed = errors.New("bus: not subscribed")
)
