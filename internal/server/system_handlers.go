package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/Skryensya/logdr.io-sub000/internal/auth"
	"github.com/Skryensya/logdr.io-sub000/internal/ledger"
)

// SystemHandlers handles health and system monitoring endpoints.
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	stores      *ledger.Registry
	machine     *auth.Machine
}

// NewSystemHandlers creates a new system handlers instance.
func NewSystemHandlers(log zerolog.Logger, dataDir string, stores *ledger.Registry, machine *auth.Machine) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		dataDir:     dataDir,
		startupTime: time.Now(),
		stores:      stores,
		machine:     machine,
	}
}

// SystemStatusResponse represents the system status response.
type SystemStatusResponse struct {
	Status      string            `json:"status"` // "healthy" or "degraded"
	AuthState   string            `json:"auth_state"`
	Identity    string            `json:"identity,omitempty"`
	OpenStores  []string          `json:"open_stores"`
	StoreHealth map[string]string `json:"store_health,omitempty"`
	UptimeHours float64           `json:"uptime_hours"`
	CPUPercent  float64           `json:"cpu_percent"`
	RAMPercent  float64           `json:"ram_percent"`
	CheckedAt   string            `json:"checked_at"`
}

// DiskUsageResponse represents disk usage statistics.
type DiskUsageResponse struct {
	DataDirMB float64      `json:"data_dir_mb"`
	Stores    []StoreUsage `json:"stores"`
	TotalMB   float64      `json:"total_mb"`
}

// StoreUsage represents the on-disk footprint of a single store file.
type StoreUsage struct {
	Name   string  `json:"name"`
	SizeMB float64 `json:"size_mb"`
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

// HandleHealth returns a minimal liveness response. Unlike the data routes it
// is reachable in every auth state.
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// HandleSystemStatus returns comprehensive system status.
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	cpuPercent, ramPercent := h.getSystemStats()
	status := h.machine.Snapshot()

	overall := "healthy"
	storeHealth := make(map[string]string)
	for namespace, err := range h.stores.CheckHealth(r.Context()) {
		if err != nil {
			overall = "degraded"
			storeHealth[namespace] = err.Error()
			h.log.Error().Err(err).Str("namespace", namespace).Msg("Store health check failed")
			continue
		}
		storeHealth[namespace] = "ok"
	}

	response := SystemStatusResponse{
		Status:      overall,
		AuthState:   string(status.State),
		Identity:    status.Identity,
		OpenStores:  h.stores.OpenIdentities(),
		StoreHealth: storeHealth,
		UptimeHours: time.Since(h.startupTime).Hours(),
		CPUPercent:  cpuPercent,
		RAMPercent:  ramPercent,
		CheckedAt:   time.Now().Format(time.RFC3339),
	}

	h.writeJSON(w, response)
}

// HandleIntegrityCheck runs the full integrity scan on every open store.
// Explicit operator action; the liveness ping in the status endpoint is the
// cheap variant.
func (h *SystemHandlers) HandleIntegrityCheck(w http.ResponseWriter, r *http.Request) {
	h.log.Info().Msg("Running integrity check")

	overall := "healthy"
	results := make(map[string]string)
	for namespace, err := range h.stores.VerifyIntegrity(r.Context()) {
		if err != nil {
			overall = "degraded"
			results[namespace] = err.Error()
			continue
		}
		results[namespace] = "ok"
	}

	h.writeJSON(w, map[string]interface{}{
		"status":     overall,
		"stores":     results,
		"checked_at": time.Now().Format(time.RFC3339),
	})
}

// HandleDiskUsage returns disk usage statistics for the data directory.
func (h *SystemHandlers) HandleDiskUsage(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting disk usage")

	var stores []StoreUsage
	entries, err := os.ReadDir(h.dataDir)
	if err != nil {
		h.log.Warn().Err(err).Str("dir", h.dataDir).Msg("Failed to read data directory")
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".db" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		stores = append(stores, StoreUsage{
			Name:   entry.Name(),
			SizeMB: float64(info.Size()) / 1024 / 1024,
		})
	}

	dataDirSize := h.getDirSize(h.dataDir)

	h.writeJSON(w, DiskUsageResponse{
		DataDirMB: dataDirSize,
		Stores:    stores,
		TotalMB:   dataDirSize,
	})
}

// getDirSize calculates total size of a directory in MB.
func (h *SystemHandlers) getDirSize(dirPath string) float64 {
	var totalSize int64

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})

	if err != nil {
		h.log.Warn().Err(err).Str("dir", dirPath).Msg("Failed to calculate directory size")
		return 0
	}

	return float64(totalSize) / 1024 / 1024
}

// getSystemStats calculates CPU and RAM usage percentages. Uses a short
// sampling interval so the status endpoint stays responsive.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}
