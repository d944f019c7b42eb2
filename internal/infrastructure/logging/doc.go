// Package logging provides structured logging for the twinsync binaries.
//
// This package wraps Go's standard log/slog package so the hub, the
// simulated device and the service client all emit the same shape of
// structured records.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - A discard logger for tests
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "twinhub", version)
//	logger.Info("twin updated", "device_id", id, "version", v)
//	logger.Error("publish failed", "error", err)
//
// Never log MQTT passwords or InfluxDB tokens.
package logging
