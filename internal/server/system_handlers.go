package server

import (
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// getSystemStats calculates CPU and RAM usage percentages. Uses a short
// 100ms sampling window so the health endpoint stays responsive.
func (h *Handlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to get memory statistics")
		return cpuAvg(cpuPercent), 0
	}

	return cpuAvg(cpuPercent), memStat.UsedPercent
}

func cpuAvg(percents []float64) float64 {
	if len(percents) == 0 {
		return 0
	}
	return percents[0]
}

// handleHealthDetailed reports process CPU/mem stats alongside liveness so
// an operator can tell "closed because the pricing pack is stale" apart
// from "closed because the box itself is dying" when this and
// /v1/freshness disagree.
func (h *Handlers) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	cpuPct, memPct := h.getSystemStats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"service":     "truthspine",
		"cpu_percent": cpuPct,
		"mem_percent": memPct,
	})
}
