package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/browniz421/twinsync/internal/infrastructure/config"
	"github.com/browniz421/twinsync/internal/infrastructure/influxdb"
	"github.com/browniz421/twinsync/internal/infrastructure/logging"
	"github.com/browniz421/twinsync/internal/telemetry"
)

// shutdownTimeout bounds the meter provider shutdown in Close.
const shutdownTimeout = 5 * time.Second

// Telemetry is the recorder set built from configuration.
type Telemetry struct {
	Recorder telemetry.Recorder

	// Collector reads back the OpenTelemetry instruments.
	Collector *telemetry.Collector

	// Influx is nil when InfluxDB is disabled.
	Influx *influxdb.Client
}

// NewTelemetry builds OpenTelemetry instruments on an SDK meter provider
// and, when enabled, an InfluxDB point writer.
func NewTelemetry(ctx context.Context, cfg config.InfluxDBConfig, log *logging.Logger) (*Telemetry, error) {
	collector := telemetry.NewCollector()
	metrics, err := telemetry.NewMetrics(collector.MeterProvider())
	if err != nil {
		collector.Shutdown(ctx) //nolint:errcheck // Returning the setup error
		return nil, fmt.Errorf("creating metrics: %w", err)
	}
	t := &Telemetry{Recorder: metrics, Collector: collector}

	if !cfg.Enabled {
		log.Info("InfluxDB disabled")
		return t, nil
	}

	client, err := influxdb.Connect(ctx, cfg)
	if err != nil {
		collector.Shutdown(ctx) //nolint:errcheck // Returning the setup error
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected", "url", cfg.URL, "org", cfg.Org, "bucket", cfg.Bucket)

	t.Influx = client
	t.Recorder = telemetry.Multi{metrics, telemetry.NewInfluxRecorder(client)}
	return t, nil
}

// Close shuts the meter provider down and flushes and closes the InfluxDB
// client, if any.
func (t *Telemetry) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := t.Collector.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down meter provider: %w", err))
	}
	if t.Influx != nil {
		if err := t.Influx.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
