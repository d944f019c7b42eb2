package telemetry

import (
	"context"
	"time"

	"github.com/browniz421/twinsync/internal/reconcile"
	"github.com/browniz421/twinsync/internal/twin"
)

// pointWriter is the part of *influxdb.Client the recorder uses.
type pointWriter interface {
	WriteReconcileEvent(deviceID, component, kind string, at time.Time)
	WriteTwinPatch(deviceID, side string, version int64, size int, at time.Time)
}

// InfluxRecorder writes measurements as InfluxDB points.
// Reconciliation durations are not written; they go to Metrics only.
type InfluxRecorder struct {
	client pointWriter
	now    func() time.Time
}

// NewInfluxRecorder wraps an InfluxDB client such as *influxdb.Client.
func NewInfluxRecorder(client pointWriter) *InfluxRecorder {
	return &InfluxRecorder{client: client, now: time.Now}
}

func (r *InfluxRecorder) ReconcileEvent(_ context.Context, deviceID string, ev reconcile.Event) {
	r.client.WriteReconcileEvent(deviceID, ev.Name, ev.Kind.String(), r.now())
}

func (r *InfluxRecorder) Reconciled(context.Context, string, time.Duration, error) {}

func (r *InfluxRecorder) TwinPatch(_ context.Context, deviceID string, side twin.Side, version int64, size int) {
	r.client.WriteTwinPatch(deviceID, string(side), version, size, r.now())
}
