// Package influxdb provides InfluxDB connectivity for twinsync.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched non-blocking writes and health monitoring.
//
// # Purpose
//
// The hub and the simulated device record twin activity as time series:
//   - reconcile_events: one point per component added/updated/deleted
//   - twin_patches: one point per desired or reported patch applied
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteReconcileEvent("MyTwinDevice", "wifi", "added", time.Now())
//
// # Error Handling
//
// Writes are batched (batch_size, flush_interval) and never block the
// caller; batch failures are delivered to the SetOnError callback.
package influxdb
