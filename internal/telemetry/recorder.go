package telemetry

import (
	"context"
	"time"

	"github.com/browniz421/twinsync/internal/reconcile"
	"github.com/browniz421/twinsync/internal/twin"
)

// Recorder receives twin and reconciliation measurements.
// Implementations must be safe for concurrent use and must not block.
type Recorder interface {
	// ReconcileEvent records one component added, updated or deleted.
	ReconcileEvent(ctx context.Context, deviceID string, ev reconcile.Event)

	// Reconciled records one reconciliation pass. err is nil on success.
	Reconciled(ctx context.Context, deviceID string, d time.Duration, err error)

	// TwinPatch records a patch applied to one side of a twin.
	TwinPatch(ctx context.Context, deviceID string, side twin.Side, version int64, size int)
}

// Multi fans every measurement out to each recorder in order.
type Multi []Recorder

func (m Multi) ReconcileEvent(ctx context.Context, deviceID string, ev reconcile.Event) {
	for _, r := range m {
		r.ReconcileEvent(ctx, deviceID, ev)
	}
}

func (m Multi) Reconciled(ctx context.Context, deviceID string, d time.Duration, err error) {
	for _, r := range m {
		r.Reconciled(ctx, deviceID, d, err)
	}
}

func (m Multi) TwinPatch(ctx context.Context, deviceID string, side twin.Side, version int64, size int) {
	for _, r := range m {
		r.TwinPatch(ctx, deviceID, side, version, size)
	}
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) ReconcileEvent(context.Context, string, reconcile.Event)  {}
func (Nop) Reconciled(context.Context, string, time.Duration, error) {}
func (Nop) TwinPatch(context.Context, string, twin.Side, int64, int) {}
