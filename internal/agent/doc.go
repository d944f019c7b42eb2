// Package agent is the simulated device side of twin synchronisation.
//
// An Agent fetches its twin, mirrors the desired components in a
// reconcile.Registry and answers every desired delta with a reported patch
// (firmware version, last patch id, fan state and climate limits). It talks
// to the hub through a TwinClient; BusClient is the implementation over the
// twin bus.
//
// Deltas are handled one at a time. Run owns the processing loop, and
// HandleDelta may also be called directly, for example from tests.
package agent
