// Package hub is the cloud side of twin synchronisation.
//
// A Service owns the twin registry. It applies desired patches coming from
// service clients and forwards the resulting deltas to devices over the
// bus, ingests reported patches from devices, and answers devices asking
// for their full twin. Every applied patch is announced to listeners
// registered with OnChange.
package hub
