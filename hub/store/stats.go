package store

import (
	"runtime"
	"time"

	"github.com/heaplane/heaplane/pkg/protocol"
)

type (
	// ServiceStats counts registered and connected services.
	ServiceStats struct {
		Total     int `json:"total"`
		Connected int `json:"connected"`
	}

	// MemoryStats reports the hub process's own memory usage.
	MemoryStats struct {
		HeapAllocMB float64 `json:"heapAllocMB"`
		HeapSysMB   float64 `json:"heapSysMB"`
		SysMB       float64 `json:"sysMB"`
		NumGC       uint32  `json:"numGC"`
	}

	// Stats is the aggregate view served by the query surface.
	Stats struct {
		Services      ServiceStats `json:"services"`
		Alerts        int          `json:"alerts"`
		Snapshots     int          `json:"snapshots"`
		Comparisons   int          `json:"comparisons"`
		Memory        MemoryStats  `json:"memory"`
		UptimeSeconds int64        `json:"uptimeSeconds"`
	}
)

const bytesPerMB = 1024 * 1024

// Stats returns aggregate counts plus the hub's own memory usage.
func (s *Store) Stats() Stats {
	s.mutex.RLock()
	connected := 0
	for _, svc := range s.services {
		if svc.status == protocol.StatusConnected {
			connected++
		}
	}
	stats := Stats{
		Services: ServiceStats{
			Total:     len(s.services),
			Connected: connected,
		},
		Alerts:      s.alerts.len(),
		Snapshots:   len(s.snapshots),
		Comparisons: len(s.sessions),
	}
	s.mutex.RUnlock()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	stats.Memory = MemoryStats{
		HeapAllocMB: float64(mem.HeapAlloc) / bytesPerMB,
		HeapSysMB:   float64(mem.HeapSys) / bytesPerMB,
		SysMB:       float64(mem.Sys) / bytesPerMB,
		NumGC:       mem.NumGC,
	}
	stats.UptimeSeconds = int64(time.Since(s.startTime).Seconds())
	return stats
}
