package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motion_extractor_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "motion_extractor_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "motion_extractor_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motion_extractor_db_queries_total",
			Help: "Total number of run history queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "motion_extractor_db_query_duration_seconds",
			Help:    "Run history query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "motion_extractor_db_connections_open",
			Help: "Number of open database connections",
		},
	)
)

// Filesystem metrics
var (
	FilesystemRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motion_extractor_filesystem_retries_total",
			Help: "Retried filesystem operations after stale NFS handles",
		},
		[]string{"operation", "result"}, // result: "attempt", "success", "failure"
	)

	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motion_extractor_filesystem_stale_errors_total",
			Help: "ESTALE errors seen by filesystem operations",
		},
		[]string{"operation"},
	)
)

// Run metrics
var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motion_extractor_runs_total",
			Help: "Total number of extraction runs by outcome",
		},
		[]string{"outcome"}, // "completed", "failed", "canceled", "rejected"
	)

	RunsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "motion_extractor_runs_in_progress",
			Help: "Number of extraction runs currently encoding",
		},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "motion_extractor_run_duration_seconds",
			Help:    "Wall time of finished extraction runs",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	RunErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motion_extractor_run_errors_total",
			Help: "Terminal run errors by kind",
		},
		[]string{"kind"},
	)

	OutputBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "motion_extractor_output_bytes",
			Help:    "Size of finalized output containers",
			Buckets: prometheus.ExponentialBuckets(64*1024, 4, 8),
		},
	)
)

// Frame metrics
var (
	FramesComposedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "motion_extractor_frames_composed_total",
			Help: "Total number of frames composited and pushed to an encoder",
		},
	)

	FramesSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "motion_extractor_frames_skipped_total",
			Help: "Total number of output frames skipped because a source frame was unavailable",
		},
	)

	SamplerCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motion_extractor_sampler_cache_total",
			Help: "Sampler frame cache lookups by result",
		},
		[]string{"result"}, // "hit", "miss"
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "motion_extractor_stage_duration_seconds",
			Help:    "Duration of individual pipeline stages",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		},
		[]string{"stage"}, // "inspect", "sample", "compose", "encode", "finalize"
	)
)

// Runtime metrics
var (
	FFmpegProcessesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "motion_extractor_ffmpeg_processes_active",
			Help: "Number of ffmpeg child processes currently running",
		},
	)

	FFmpegRestartsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "motion_extractor_ffmpeg_decoder_restarts_total",
			Help: "Number of times a decode cursor restarted ffmpeg to seek",
		},
	)

	RetainedOutputs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "motion_extractor_retained_outputs",
			Help: "Number of completed outputs held in memory awaiting download",
		},
	)

	RetainedOutputBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "motion_extractor_retained_output_bytes",
			Help: "Bytes of completed outputs held in memory awaiting download",
		},
	)

	GoMemAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "motion_extractor_go_mem_alloc_bytes",
			Help: "Current Go heap allocation in bytes",
		},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "motion_extractor_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
