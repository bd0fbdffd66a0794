// Package startup handles application initialization, configuration loading,
// and startup/shutdown logging.
//
// # Configuration
//
// All configuration is loaded from environment variables via [LoadConfig].
// Invalid values are logged and replaced by their defaults:
//
//   - PORT: HTTP server port (default: 8080)
//   - METRICS_PORT: Prometheus metrics server port (default: 9090)
//   - METRICS_ENABLED: Enable or disable metrics server (default: true)
//   - LOG_HEALTH_CHECKS: Log health check requests (default: true)
//   - CACHE_DIR: Staging area for uploaded sources (default: /cache)
//   - DATABASE_DIR: Location of the run history (default: /database)
//   - FRAME_OFFSET: Default frame offset, 1-60 (default: 10)
//   - BRIGHTNESS: Default brightness adjustment, -100 to 100 (default: 0)
//   - MAX_UPLOAD_MB: Largest accepted upload (default: 512)
//   - RETAINED_RUNS: Finished runs kept in memory with their output (default: 8)
//   - MAX_ACTIVE_RUNS: Runs allowed in flight at once (default: one per 4 CPUs)
//   - HISTORY_RETENTION: How long finished runs stay in the history (default: 720h)
//   - FFMPEG_PATH, FFPROBE_PATH: Media binaries (default: ffmpeg, ffprobe)
//   - ENCODER_PRESET, ENCODER_CRF: H.264 quality (default: slow, 18)
//   - DECODE_WORKERS: Concurrent decode cursors per run (default: derived from CPUs)
//   - SAMPLER_CACHE_FRAMES: Decoded frames cached per cursor (default: 2)
//   - VIPS_ENABLED: Scale frames with libvips (default: false)
//
// # Directory Setup
//
// The database directory and the upload staging directory are created when
// missing and must be writable.
//
// # Build Information
//
// Build-time variables are injected via ldflags and exposed via [GetBuildInfo]:
//   - Version: Application version
//   - Commit: Git commit hash
//   - BuildTime: Build timestamp
//   - GoVersion: Go compiler version
//
// # Lifecycle Logging
//
//   - [LogDatabaseInit]: Database initialization timing
//   - [LogRuntimeInit]: ffmpeg/ffprobe availability
//   - [LogScaler]: Selected frame scaler
//   - [LogHTTPRoutes]: Registered HTTP routes (debug level)
//   - [LogServerStarted]: Server endpoints and startup duration
//   - [LogShutdownInitiated], [LogShutdownStep], [LogShutdownComplete]
package startup
