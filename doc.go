// Package main runs the motion-extractor HTTP service.
//
// Clients upload a video, pick a frame offset and receive a motion-extraction
// rendering of it: every frame overlaid with the inverted frame offset frames
// later at 50% opacity. Runs execute in the background and are tracked in a
// SQLite history.
//
// # Application Lifecycle
//
//  1. Configuration Loading: reads environment variables and validates directories
//  2. Database Initialization: opens the run history and repairs interrupted runs
//  3. Runtime Initialization: locates ffmpeg/ffprobe and selects the frame scaler
//  4. Run Manager: owns background runs, their progress and retained outputs
//  5. HTTP Server Setup: routes, request logging, metrics and compression
//  6. Graceful Shutdown: on SIGINT/SIGTERM stops the server, cancels runs and
//     kills leftover ffmpeg processes
//
// # HTTP Servers
//
//  1. Main Server (default port 8080): run API and health endpoints
//  2. Metrics Server (default port 9090, optional): Prometheus /metrics
//
// # Environment Variables
//
//   - PORT, METRICS_PORT, METRICS_ENABLED
//   - CACHE_DIR: staging area for uploads (default: /cache)
//   - DATABASE_DIR: run history location (default: /database)
//   - FRAME_OFFSET, BRIGHTNESS: defaults for runs that do not set them
//   - MAX_UPLOAD_MB, RETAINED_RUNS, HISTORY_RETENTION
//   - FFMPEG_PATH, FFPROBE_PATH, ENCODER_PRESET, ENCODER_CRF
//   - DECODE_WORKERS, SAMPLER_CACHE_FRAMES, VIPS_ENABLED
//   - MEMORY_LIMIT, MEMORY_RATIO: GOMEMLIMIT sizing (see internal/memory)
//   - LOG_LEVEL: logging level (debug/info/warn/error)
//
// # Related Packages
//
//   - [motion-extractor/internal/pipeline]: the per-run frame loop
//   - [motion-extractor/internal/runs]: background run registry
//   - [motion-extractor/internal/handlers]: HTTP request handlers
//   - [motion-extractor/internal/database]: SQLite run history
//   - [motion-extractor/internal/ffmpeg]: ffprobe/ffmpeg runtime
package main
