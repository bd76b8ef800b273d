package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/halirc/internal/bridge"
)

// SystemMetrics represents the /api/v1/system response.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	Devices       DeviceMetrics    `json:"devices"`
	Hal           HalMetrics       `json:"hal"`
	MQTT          *bridge.Stats    `json:"mqtt,omitempty"`
	Database      *DatabaseMetrics `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// DeviceMetrics summarises the device registry.
type DeviceMetrics struct {
	Total     int `json:"total"`
	Connected int `json:"connected"`
	Pending   int `json:"pending"`
}

// HalMetrics summarises the trigger engine.
type HalMetrics struct {
	Triggers int  `json:"triggers"`
	Timers   int  `json:"timers"`
	Running  bool `json:"action_running"`
	Queued   int  `json:"actions_queued"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleSystem returns a JSON overview for humans; Prometheus scrapes /metrics.
func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	out := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
	}

	for _, d := range s.registry.All() {
		out.Devices.Total++
		if d.Connected() {
			out.Devices.Connected++
		}
		out.Devices.Pending += d.Pending()
	}

	snap := s.hal.Dispatcher().Snapshot()
	out.Hal = HalMetrics{
		Triggers: len(s.hal.Triggers()),
		Timers:   len(s.hal.Timers()),
		Running:  snap.Running != nil,
		Queued:   len(snap.Queued),
	}

	if s.bridge != nil {
		stats := s.bridge.Stats()
		out.MQTT = &stats
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		out.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, out)
}
