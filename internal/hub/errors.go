package hub

import "errors"

var (
	// ErrNotStarted is returned by Stop before Start.
	ErrNotStarted = errors.New("hub: not started")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("hub: already started")

	// ErrDeltaNotDelivered is returned when a desired patch was saved but
	// its delta could not be published to the device.
	ErrDeltaNotDelivered = errors.New("hub: desired delta not delivered")

	// ErrInvalidMessage is returned for bus messages that cannot be decoded.
	ErrInvalidMessage = errors.New("hub: invalid message")
)
