package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// Collector owns an SDK meter provider read on demand, so the process can
// report its own instruments without an exporter.
type Collector struct {
	provider *sdkmetric.MeterProvider
	reader   *sdkmetric.ManualReader
}

// NewCollector creates a meter provider backed by a manual reader.
func NewCollector() *Collector {
	reader := sdkmetric.NewManualReader()
	return &Collector{
		provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		reader:   reader,
	}
}

// MeterProvider returns the provider instruments should be created on.
func (c *Collector) MeterProvider() metric.MeterProvider {
	return c.provider
}

// Counters collects every instrument and returns its total across
// attributes, keyed by instrument name. Histograms report their
// observation count.
func (c *Collector) Counters(ctx context.Context) (map[string]int64, error) {
	var rm metricdata.ResourceMetrics
	if err := c.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collecting metrics: %w", err)
	}

	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				var total int64
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
				out[m.Name] = total
			case metricdata.Histogram[float64]:
				var count uint64
				for _, dp := range data.DataPoints {
					count += dp.Count
				}
				out[m.Name] = int64(count) //nolint:gosec // Observation counts fit in int64
			}
		}
	}
	return out, nil
}

// Shutdown stops the meter provider. Later Counters calls fail.
func (c *Collector) Shutdown(ctx context.Context) error {
	return c.provider.Shutdown(ctx)
}
