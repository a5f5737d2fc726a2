package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

var startTime = time.Now()

type systemInfo struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemUsedMB   uint64  `json:"mem_used_mb"`
	MemTotalMB  uint64  `json:"mem_total_mb"`
	DiskUsedPct float64 `json:"disk_used_percent"`
	Goroutines  int     `json:"goroutines"`
}

type healthResponse struct {
	Status        string      `json:"status"`
	Version       string      `json:"version,omitempty"`
	UptimeSeconds float64     `json:"uptime_seconds"`
	Store         string      `json:"store"`
	Queue         int         `json:"queue_length"`
	Active        int         `json:"active_jobs"`
	System        *systemInfo `json:"system,omitempty"`
}

// handleHealth reports service liveness plus host resource usage so an
// operator can spot a saturated generation node at a glance.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "healthy",
		Version:       h.version,
		UptimeSeconds: time.Since(startTime).Seconds(),
		Store:         "ok",
	}

	httpStatus := http.StatusOK
	if err := h.engine.Health(); err != nil {
		resp.Status = "degraded"
		resp.Store = err.Error()
		httpStatus = http.StatusServiceUnavailable
	}

	if metrics, err := h.engine.Metrics(); err == nil {
		resp.Queue = metrics.QueueLength
		resp.Active = metrics.ActiveJobs
	}

	resp.System = collectSystemInfo(h.dataDir)
	h.writeJSON(w, httpStatus, resp)
}

// collectSystemInfo gathers best-effort host stats; a probe failure
// leaves the field zeroed rather than failing the health check.
func collectSystemInfo(dataDir string) *systemInfo {
	info := &systemInfo{Goroutines: runtime.NumGoroutine()}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		info.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemUsedMB = vm.Used / (1 << 20)
		info.MemTotalMB = vm.Total / (1 << 20)
	}
	if usage, err := disk.Usage(dataDir); err == nil {
		info.DiskUsedPct = usage.UsedPercent
	}
	return info
}
