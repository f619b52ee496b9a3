package api

import (
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

type systemInfo struct {
	CPUPercent     float64 `json:"cpuPercent"`
	MemUsedPercent float64 `json:"memUsedPercent"`
}

// handleHealth reports liveness plus coarse host pressure, so an operator can
// tell an overloaded box from a dead one.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var sys systemInfo
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		sys.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		sys.MemUsedPercent = vm.UsedPercent
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "OK",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"activeSessions": s.registry.ActiveCount(),
		"system":         sys,
	})
}
