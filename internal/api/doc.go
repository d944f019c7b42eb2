// Package api implements the HTTP REST API and WebSocket server of the twin hub.
//
// This package provides:
//   - REST endpoints to list, read, register and patch device twins
//   - Optimistic concurrency on desired patches through ETag and If-Match
//   - Patch history per twin
//   - WebSocket change feed filtered by channel and device
//   - Middleware stack (request ID, logging, recovery, body size limit)
//
// # Architecture
//
// The API server sits between service clients (twinctl, dashboards) and the
// hub service. Desired patches flow from the API through the hub to devices
// over the twin bus; every applied patch, desired or reported, is broadcast
// to WebSocket watchers.
//
// The API is unauthenticated.
package api
