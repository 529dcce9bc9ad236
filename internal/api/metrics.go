package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-tuya/internal/bridges/tuya"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string             `json:"timestamp"`
	Version       string             `json:"version"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Runtime       RuntimeMetrics     `json:"runtime"`
	Bridge        tuya.BridgeMetrics `json:"bridge"`
	Database      *DatabaseMetrics   `json:"database,omitempty"`
	Datapoints    *DatapointMetrics  `json:"datapoints,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// DatapointMetrics summarises the datapoint recorder.
type DatapointMetrics struct {
	Recorded int `json:"recorded"`
}

const bytesPerMB = 1024 * 1024

// handleMetrics returns runtime, bridge, database and recorder metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / bytesPerMB,
			MemoryTotalMB: float64(memStats.TotalAlloc) / bytesPerMB,
			NumGC:         memStats.NumGC,
		},
		Bridge: s.bridge.GetMetrics(),
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	if s.datapoints != nil {
		count, err := s.datapoints.Count(r.Context())
		if err != nil {
			s.logger.Warn("counting recorded datapoints failed", "error", err)
		} else {
			metrics.Datapoints = &DatapointMetrics{Recorded: count}
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
