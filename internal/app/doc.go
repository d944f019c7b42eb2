// Package app assembles the twinsync runtime from configuration: the twin
// bus transport, the telemetry recorders and the hub (database, registry,
// hub service and HTTP API).
//
// The binaries under cmd/ and the embedded demo share this wiring so that
// a single-process run and a distributed run differ only in transport.
package app
