package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by twinsync.
const (
	MeasurementReconcileEvents = "reconcile_events"
	MeasurementTwinPatches     = "twin_patches"
)

// ReconcileEventPoint builds the point recorded for one component change.
func ReconcileEventPoint(deviceID, component, kind string, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementReconcileEvents,
		map[string]string{
			"device_id": deviceID,
			"component": component,
			"kind":      kind,
		},
		map[string]any{"count": 1},
		at,
	)
}

// TwinPatchPoint builds the point recorded for one applied twin patch.
// side is "desired" or "reported".
func TwinPatchPoint(deviceID, side string, version int64, size int, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementTwinPatches,
		map[string]string{
			"device_id": deviceID,
			"side":      side,
		},
		map[string]any{
			"version": version,
			"bytes":   size,
		},
		at,
	)
}

// WriteReconcileEvent records a component added/updated/deleted event.
// The write is non-blocking; nothing is written when disconnected.
func (c *Client) WriteReconcileEvent(deviceID, component, kind string, at time.Time) {
	c.WritePoint(ReconcileEventPoint(deviceID, component, kind, at))
}

// WriteTwinPatch records an applied desired or reported patch.
func (c *Client) WriteTwinPatch(deviceID, side string, version int64, size int, at time.Time) {
	c.WritePoint(TwinPatchPoint(deviceID, side, version, size, at))
}

// WritePoint queues an arbitrary point.
func (c *Client) WritePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}
