package reconcile

import "errors"

// Sentinel errors for reconciliation.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrMissingFullState is returned when a delta sets a component that has no
	// entry in the supplied full state. The registry is left unchanged.
	ErrMissingFullState = errors.New("reconcile: component missing from full state")

	// ErrInvalidDelta is returned when a delta document cannot be decoded, or
	// when a component value is neither null nor a JSON object.
	ErrInvalidDelta = errors.New("reconcile: invalid delta")
)
