package handlers

import (
	"context"
	"time"

	"motion-extractor/internal/database"
	"motion-extractor/internal/pipeline"
	"motion-extractor/internal/runs"
	"motion-extractor/internal/startup"

	"github.com/gorilla/mux"
)

// History is the persisted run history. *database.Database satisfies it.
type History interface {
	GetRun(ctx context.Context, id string) (*database.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]database.RunRecord, error)
	GetHistoryStats(ctx context.Context) (database.HistoryStats, error)
}

// RuntimeChecker reports whether the media runtime can process runs.
type RuntimeChecker interface {
	Available() error
}

type Handlers struct {
	runs      *runs.Manager
	history   History
	runtime   RuntimeChecker
	defaults  pipeline.Config
	maxUpload int64
	startTime time.Time
}

// New creates the handlers. history and rt may be nil.
func New(mgr *runs.Manager, history History, rt RuntimeChecker, config *startup.Config) *Handlers {
	return &Handlers{
		runs:      mgr,
		history:   history,
		runtime:   rt,
		defaults:  config.RunDefaults(),
		maxUpload: config.MaxUploadBytes,
		startTime: time.Now(),
	}
}

// RegisterRoutes adds every API route to r.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.HealthCheck).Methods("GET").Name("health")
	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/inspect", h.Inspect).Methods("POST").Name("inspect")
	api.HandleFunc("/runs", h.StartRun).Methods("POST").Name("start-run")
	api.HandleFunc("/runs", h.ListRuns).Methods("GET").Name("list-runs")
	api.HandleFunc("/runs/{id}", h.GetRun).Methods("GET").Name("get-run")
	api.HandleFunc("/runs/{id}", h.CancelRun).Methods("DELETE").Name("cancel-run")
	api.HandleFunc("/runs/{id}/output", h.GetOutput).Methods("GET").Name("run-output")
}
