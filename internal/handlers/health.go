package handlers

import (
	"net/http"
	"runtime"
	"time"

	"motion-extractor/internal/database"
	"motion-extractor/internal/logging"
	"motion-extractor/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusDegraded = "degraded"
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Ready   bool   `json:"ready"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`

	// RuntimeError explains why runs cannot be processed.
	RuntimeError string `json:"runtimeError,omitempty"`

	ActiveRuns      int `json:"activeRuns"`
	RetainedOutputs int `json:"retainedOutputs"`

	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`

	History *database.HistoryStats `json:"history,omitempty"`
}

// HealthCheck reports whether runs can be processed. It answers 503 when the
// media runtime is missing.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	stats := h.runs.GetStats()
	response := HealthResponse{
		Status:          statusHealthy,
		Ready:           true,
		Version:         startup.Version,
		Uptime:          time.Since(h.startTime).Round(time.Second).String(),
		ActiveRuns:      h.runs.Active(),
		RetainedOutputs: stats.RetainedOutputs,
		GoVersion:       runtime.Version(),
		NumCPU:          runtime.NumCPU(),
		NumGoroutine:    runtime.NumGoroutine(),
	}

	if h.runtime != nil {
		if err := h.runtime.Available(); err != nil {
			response.Status = statusDegraded
			response.Ready = false
			response.RuntimeError = err.Error()
		}
	}

	if h.history != nil {
		if hs, err := h.history.GetHistoryStats(r.Context()); err != nil {
			logging.Warn("health: history stats unavailable: %v", err)
		} else {
			response.History = &hs
		}
	}

	status := http.StatusOK
	if !response.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSONStatus(w, status, response)
}

// LivenessCheck is a simple liveness probe (always returns 200 if server is running)
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if r.Method != http.MethodHead {
		writeJSON(w, map[string]string{"status": "alive"})
	}
}
