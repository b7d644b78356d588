package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/scada-overlay/internal/cache"
)

// SystemMetrics is the GET /system response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	Cache         cache.Stats    `json:"cache"`
	Overlay       OverlayMetrics `json:"overlay"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// OverlayMetrics describes the overlay instance.
type OverlayMetrics struct {
	Ready          bool `json:"ready"`
	RenderedItems  int  `json:"rendered_items"`
	DerivedResults int  `json:"derived_results"`
}

// handleSystem returns a JSON snapshot of process and overlay state.
func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount()},
		Cache:     s.cache.Stats(),
		Overlay: OverlayMetrics{
			Ready:         s.widget.Ready(),
			RenderedItems: len(s.hub.Snapshot()),
		},
	}
	if s.derived != nil {
		m.Overlay.DerivedResults = len(s.derived.Last())
	}

	writeJSON(w, http.StatusOK, m)
}
