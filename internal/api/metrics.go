package api

import (
	"context"
	"database/sql"
	"net/http"
	"runtime"
	"time"
)

// StatsProvider exposes connection pool statistics, such as *database.DB.
type StatsProvider interface {
	Stats() sql.DBStats
}

// CounterSource reports telemetry instrument totals by name, such as
// *telemetry.Collector.
type CounterSource interface {
	Counters(ctx context.Context) (map[string]int64, error)
}

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	Twins         TwinMetrics     `json:"twins"`
	Database      DatabaseMetrics `json:"database"`

	// Telemetry holds instrument totals, keyed by instrument name.
	Telemetry map[string]int64 `json:"telemetry,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains change feed statistics.
type WSMetrics struct {
	ConnectedClients int   `json:"connected_clients"`
	DroppedEvents    int64 `json:"dropped_events"`
}

// TwinMetrics contains twin registry statistics.
type TwinMetrics struct {
	Total            int   `json:"total"`
	DesiredPatches   int64 `json:"desired_patches"`
	ReportedPatches  int64 `json:"reported_patches"`
	PendingOnDevices int   `json:"pending_on_devices"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns runtime, WebSocket, twin, database and telemetry
// statistics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.feed.Watchers(),
			DroppedEvents:    s.feed.Dropped(),
		},
	}

	twins, err := s.twins.Twins(r.Context())
	if err != nil {
		s.logger.Warn("failed to list twins for metrics", "error", err)
	}
	metrics.Twins.Total = len(twins)
	for _, t := range twins {
		metrics.Twins.DesiredPatches += t.DesiredVersion
		metrics.Twins.ReportedPatches += t.ReportedVersion
		if lastPatchID, ok := t.Desired.String("patchId"); ok {
			if reported, _ := t.Reported.String("lastPatchReceivedId"); reported != lastPatchID {
				metrics.Twins.PendingOnDevices++
			}
		}
	}

	if s.stats != nil {
		dbStats := s.stats.Stats()
		metrics.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	if s.counters != nil {
		counters, err := s.counters.Counters(r.Context())
		if err != nil {
			s.logger.Warn("failed to collect telemetry for metrics", "error", err)
		}
		metrics.Telemetry = counters
	}

	writeJSON(w, http.StatusOK, metrics)
}
