package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/avramidis/skopos/internal/utils"
)

// SystemHandlers serves process and host level telemetry.
type SystemHandlers struct {
	log         zerolog.Logger
	startupTime time.Time
}

// NewSystemHandlers creates the system telemetry handlers.
func NewSystemHandlers(log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("handler", "system").Logger(),
		startupTime: time.Now(),
	}
}

// HandleSystemStatus returns a host resource snapshot.
// GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memory := h.systemStats()

	response := map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.startupTime).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    utils.Round2(cpuPercent),
		"memory":         memory,
	}

	h.writeJSON(w, response)
}

// systemStats samples CPU and memory usage. The CPU sample uses a 100ms
// interval so the endpoint answers fast enough for dashboard polling.
func (h *SystemHandlers) systemStats() (float64, map[string]any) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}
	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return cpuAvg, map[string]any{}
	}

	return cpuAvg, map[string]any{
		"used_percent": utils.Round2(memStat.UsedPercent),
		"used_mb":      utils.Round2(float64(memStat.Used) / 1024 / 1024),
		"total_mb":     utils.Round2(float64(memStat.Total) / 1024 / 1024),
	}
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
