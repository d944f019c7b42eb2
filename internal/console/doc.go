// Package console prints what the simulated device and the service script
// are doing, one coloured line per event.
package console
