// Package logging provides a simple leveled logging interface for the
// motion extractor.
//
// It supports the following log levels:
//   - DEBUG: per-frame decisions (skipped frames, cache hits, ffmpeg argv)
//   - INFO: run lifecycle and startup configuration
//   - WARN: degraded capabilities
//   - ERROR: failed runs and ffmpeg stderr
//   - FATAL: startup errors that terminate the process
//
// The level comes from the DEBUG or LOG_LEVEL environment variables and can
// be overridden at runtime with SetLevel.
package logging
