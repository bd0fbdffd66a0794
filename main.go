package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"motion-extractor/internal/database"
	"motion-extractor/internal/ffmpeg"
	"motion-extractor/internal/handlers"
	"motion-extractor/internal/logging"
	"motion-extractor/internal/media"
	"motion-extractor/internal/memory"
	"motion-extractor/internal/metrics"
	"motion-extractor/internal/middleware"
	"motion-extractor/internal/pipeline"
	"motion-extractor/internal/runs"
	"motion-extractor/internal/startup"

	"github.com/gorilla/mux"
)

const (
	statsInterval       = 30 * time.Second
	maintenanceInterval = 1 * time.Hour
)

func main() {
	startTime := time.Now()

	// Size the Go heap before anything large is allocated
	memory.ConfigureFromEnv()

	// Load configuration
	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	metrics.InitializeMetrics()
	metrics.SetAppInfo(startup.Version, startup.Commit, runtime.Version())

	// Initialize database
	dbStart := time.Now()
	db, err := database.New(context.Background(), config.DatabasePath)
	if err != nil {
		startup.LogFatal("Failed to initialize database: %v", err)
	}
	defer db.Close()
	startup.LogDatabaseInit(time.Since(dbStart))

	// Initialize media runtime
	rt := ffmpeg.New(ffmpeg.Config{
		FFmpegPath:  config.FFmpegPath,
		FFprobePath: config.FFprobePath,
		Preset:      config.EncoderPreset,
		CRF:         config.EncoderCRF,
	})
	if startup.LogRuntimeInit(config.FFmpegPath, config.FFprobePath) {
		recordRuntimeVersion(db, rt)
	}

	scaler := media.SelectScaler(config.VipsEnabled)
	startup.LogScaler(scaler.Name())

	// Initialize run manager
	manager := runs.New(rt, db, runs.Config{
		CacheDir:    config.UploadDir,
		MaxRetained: config.MaxRetainedRuns,
		MaxActive:   config.MaxActiveRuns,
		Pipeline: pipeline.Options{
			Scaler:        scaler,
			CacheFrames:   config.SamplerCacheFrames,
			DecodeWorkers: config.DecodeWorkers,
		},
	})

	collector := metrics.NewCollector(manager, statsInterval)
	collector.Start()

	stopMaintenance := make(chan struct{})
	go runMaintenance(db, config.HistoryRetention, stopMaintenance)

	// Initialize handlers and router
	h := handlers.New(manager, db, rt, config)
	router := mux.NewRouter()
	h.RegisterRoutes(router)
	startup.LogHTTPRoutes(router, config.LogHealthChecks)

	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogHealthChecks = config.LogHealthChecks
	metricsConfig := middleware.DefaultMetricsConfig()

	handler := middleware.Compression(middleware.DefaultCompressionConfig())(router)
	handler = middleware.Logger(loggingConfig)(handler)
	handler = middleware.Metrics(metricsConfig)(handler)

	srv := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		// Uploads and output downloads can be large.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	var metricsSrv *http.Server
	if config.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", handlers.MetricsHandler())
		metricsSrv = &http.Server{
			Addr:              ":" + config.MetricsPort,
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				logging.Error("Metrics server error: %v", err)
			}
		}()
	}

	shutdownDone := make(chan struct{})
	go handleShutdown(shutdownDone, shutdownDeps{
		srv:             srv,
		metricsSrv:      metricsSrv,
		manager:         manager,
		runtime:         rt,
		collector:       collector,
		stopMaintenance: stopMaintenance,
	})

	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		startup.LogFatal("Server error: %v", err)
	}
	<-shutdownDone
}

// recordRuntimeVersion stores the ffmpeg version next to the history so a
// changed encoder can be spotted when comparing old runs.
func recordRuntimeVersion(db *database.Database, rt *ffmpeg.Runtime) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	version, err := rt.Version(ctx)
	if err != nil {
		logging.Warn("Could not read ffmpeg version: %v", err)
		return
	}

	previous, err := db.GetMetadata(ctx, "ffmpeg_version")
	if err == nil && previous != version {
		logging.Info("ffmpeg version changed: %s -> %s", previous, version)
	}
	if err := db.SetMetadata(ctx, "ffmpeg_version", version); err != nil {
		logging.Warn("Could not record ffmpeg version: %v", err)
	}
}

// runMaintenance refreshes database metrics and prunes old history.
func runMaintenance(db *database.Database, retention time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		db.UpdateDBMetrics()
		if retention > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			n, err := db.DeleteRunsBefore(ctx, time.Now().Add(-retention))
			cancel()
			switch {
			case err != nil:
				logging.Warn("History pruning failed: %v", err)
			case n > 0:
				logging.Info("Pruned %d runs older than %v", n, retention)
			}
		}

		select {
		case <-ticker.C:
		case <-stop:
			return
		}
	}
}

type shutdownDeps struct {
	srv             *http.Server
	metricsSrv      *http.Server
	manager         *runs.Manager
	runtime         *ffmpeg.Runtime
	collector       *metrics.Collector
	stopMaintenance chan struct{}
}

func handleShutdown(done chan<- struct{}, deps shutdownDeps) {
	defer close(done)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := deps.srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	startup.LogShutdownStep("Canceling active runs")
	if err := deps.manager.Shutdown(ctx); err != nil {
		logging.Warn("Run manager shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("Active runs canceled")
	}

	startup.LogShutdownStep("Cleaning up ffmpeg processes")
	deps.runtime.Cleanup()
	startup.LogShutdownStepComplete("ffmpeg cleanup complete")

	media.ShutdownVips()
	deps.collector.Stop()
	close(deps.stopMaintenance)

	if deps.metricsSrv != nil {
		startup.LogShutdownStep("Shutting down metrics server")
		if err := deps.metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		} else {
			startup.LogShutdownStepComplete("Metrics server stopped")
		}
	}

	startup.LogShutdownComplete()
}
