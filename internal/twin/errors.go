package twin

import "errors"

// Domain errors for the twin package.
var (
	// ErrTwinNotFound is returned when no twin exists for a device ID.
	ErrTwinNotFound = errors.New("twin: not found")

	// ErrTwinExists is returned when creating a twin that already exists.
	ErrTwinExists = errors.New("twin: already exists")

	// ErrVersionConflict is returned when a version precondition does not
	// match the stored twin.
	ErrVersionConflict = errors.New("twin: version conflict")

	// ErrInvalidPatch is returned for patches that are not JSON objects
	// (or null, where a reset is allowed).
	ErrInvalidPatch = errors.New("twin: invalid patch")

	// ErrInvalidDeviceID is returned when a device ID fails validation.
	ErrInvalidDeviceID = errors.New("twin: invalid device id")
)
