// Package ffmpeg implements media.Runtime on top of the ffprobe and ffmpeg
// command line tools.
//
// It supports:
//   - Track listing, packet-rate measurement and container duration via ffprobe
//   - Independent decode cursors, each backed by its own ffmpeg process that
//     emits raw RGBA frames and is restarted when a cursor seeks backwards
//   - In-memory encoding to fragmented MP4 (H.264) or WebM (VP9/VP8)
//   - Encoder capability detection, resolved once per process
//
// Both binaries must be installed and available in the system PATH or
// configured explicitly.
package ffmpeg
