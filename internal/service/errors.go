package service

import "errors"

// Sentinel errors for the service client.
var (
	// ErrNotFound is returned when the hub has no twin for the device.
	ErrNotFound = errors.New("service: twin not found")

	// ErrConflict is returned for version conflicts and duplicate registrations.
	ErrConflict = errors.New("service: conflict")

	// ErrInvalidRequest is returned when the hub rejects a request as malformed.
	ErrInvalidRequest = errors.New("service: invalid request")

	// ErrNotDelivered is returned when a desired patch was saved but could
	// not be forwarded to the device.
	ErrNotDelivered = errors.New("service: patch not delivered to device")

	// ErrRequestFailed is returned for any other unsuccessful response.
	ErrRequestFailed = errors.New("service: request failed")

	// ErrAckTimeout is returned when the device does not acknowledge a
	// scripted patch in time.
	ErrAckTimeout = errors.New("service: device did not acknowledge patch")

	// ErrWatchClosed is returned when the change stream ends unexpectedly.
	ErrWatchClosed = errors.New("service: watch closed")
)
