// Package telemetry records twin and reconciliation measurements.
//
// Metrics publishes OpenTelemetry instruments through a MeterProvider (the
// global one by default). InfluxRecorder writes the same events as InfluxDB
// points. Multi fans one event out to several recorders.
package telemetry
