// Package system collects host and process statistics for the /info endpoint.
package system

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Stats is a point-in-time snapshot of host and process health.
type Stats struct {
	Hostname      string  `json:"hostname"`
	UptimeSeconds uint64  `json:"uptime_seconds"`
	GoVersion     string  `json:"go_version"`
	NumCPU        int     `json:"num_cpu"`
	NumGoroutine  int     `json:"num_goroutine"`
	CPUPercent    float64 `json:"cpu_percent"`
	Load1         float64 `json:"load1"`
	MemTotal      uint64  `json:"mem_total_bytes"`
	MemUsed       uint64  `json:"mem_used_bytes"`
	MemPercent    float64 `json:"mem_percent"`
	ProcessRSS    uint64  `json:"process_rss_bytes"`
	CollectedAt   string  `json:"collected_at"`
}

// Collect gathers stats, tolerating partial failures: unavailable probes
// leave their fields zero rather than failing the snapshot.
func Collect(ctx context.Context) *Stats {
	s := &Stats{
		GoVersion:    runtime.Version(),
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
		CollectedAt:  time.Now().UTC().Format(time.RFC3339),
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		s.Hostname = info.Hostname
		s.UptimeSeconds = info.Uptime
	}
	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		s.CPUPercent = pcts[0]
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		s.Load1 = avg.Load1
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.MemTotal = vm.Total
		s.MemUsed = vm.Used
		s.MemPercent = vm.UsedPercent
	}
	if proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if mi, err := proc.MemoryInfoWithContext(ctx); err == nil {
			s.ProcessRSS = mi.RSS
		}
	}
	return s
}

// Map renders the snapshot as a statistics map.
func (s *Stats) Map() map[string]any {
	return map[string]any{
		"hostname":          s.Hostname,
		"uptime_seconds":    s.UptimeSeconds,
		"go_version":        s.GoVersion,
		"num_cpu":           s.NumCPU,
		"num_goroutine":     s.NumGoroutine,
		"cpu_percent":       s.CPUPercent,
		"load1":             s.Load1,
		"mem_total_bytes":   s.MemTotal,
		"mem_used_bytes":    s.MemUsed,
		"mem_percent":       s.MemPercent,
		"process_rss_bytes": s.ProcessRSS,
		"collected_at":      s.CollectedAt,
	}
}
