package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/browniz421/twinsync/internal/reconcile"
	"github.com/browniz421/twinsync/internal/twin"
)

// InstrumentationName names the meter every instrument is created on.
const InstrumentationName = "github.com/browniz421/twinsync"

// Instrument names.
const (
	MetricReconcileEvents   = "twin.reconcile.events"
	MetricReconcileFailures = "twin.reconcile.failures"
	MetricReconcileDuration = "twin.reconcile.duration"
	MetricPatches           = "twin.patches"
)

// Attribute keys.
const (
	attrDeviceID = "device_id"
	attrKind     = "kind"
	attrSide     = "side"
)

// Metrics records measurements as OpenTelemetry instruments.
type Metrics struct {
	events   metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
	patches  metric.Int64Counter
}

// NewMetrics creates the instruments on provider's meter.
// A nil provider uses the global MeterProvider.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(InstrumentationName)

	var (
		m   Metrics
		err error
	)
	m.events, err = meter.Int64Counter(MetricReconcileEvents,
		metric.WithDescription("Components added, updated or deleted by reconciliation."),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", MetricReconcileEvents, err)
	}
	m.failures, err = meter.Int64Counter(MetricReconcileFailures,
		metric.WithDescription("Reconciliation passes that returned an error."),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", MetricReconcileFailures, err)
	}
	m.duration, err = meter.Float64Histogram(MetricReconcileDuration,
		metric.WithDescription("Duration of a successful reconciliation pass."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", MetricReconcileDuration, err)
	}
	m.patches, err = meter.Int64Counter(MetricPatches,
		metric.WithDescription("Patches applied to twins."),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", MetricPatches, err)
	}
	return &m, nil
}

func (m *Metrics) ReconcileEvent(ctx context.Context, deviceID string, ev reconcile.Event) {
	attrs := attribute.NewSet(
		attribute.String(attrDeviceID, deviceID),
		attribute.String(attrKind, ev.Kind.String()),
	)
	m.events.Add(ctx, 1, metric.WithAttributeSet(attrs))
}

func (m *Metrics) Reconciled(ctx context.Context, deviceID string, d time.Duration, err error) {
	attrs := attribute.NewSet(attribute.String(attrDeviceID, deviceID))
	if err != nil {
		m.failures.Add(ctx, 1, metric.WithAttributeSet(attrs))
		return
	}
	m.duration.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributeSet(attrs))
}

func (m *Metrics) TwinPatch(ctx context.Context, deviceID string, side twin.Side, _ int64, _ int) {
	attrs := attribute.NewSet(
		attribute.String(attrDeviceID, deviceID),
		attribute.String(attrSide, string(side)),
	)
	m.patches.Add(ctx, 1, metric.WithAttributeSet(attrs))
}
