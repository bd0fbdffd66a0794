// Package metrics provides Prometheus instrumentation for the motion
// extractor. All metrics are prefixed with "motion_extractor_".
//
// # Metric Categories
//
// ## HTTP Metrics
//   - HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight
//
// ## Run Metrics
//   - RunsTotal: runs by outcome (completed/failed/canceled/rejected)
//   - RunsInProgress: runs currently encoding
//   - RunDuration: wall time of finished runs
//   - RunErrors: terminal errors by kind
//   - OutputBytes: finalized container sizes
//
// ## Frame Metrics
//   - FramesComposedTotal, FramesSkippedTotal
//   - SamplerCacheTotal: rolling frame cache hits and misses
//   - StageDuration: per-stage latency (inspect/sample/compose/encode/finalize)
//
// ## Runtime Metrics
//   - FFmpegProcessesActive, FFmpegRestartsTotal
//   - RetainedOutputs, RetainedOutputBytes, GoMemAllocBytes (via Collector)
//
// # Prometheus Queries
//
// Skip ratio:
//
//	rate(motion_extractor_frames_skipped_total[5m]) /
//	(rate(motion_extractor_frames_composed_total[5m]) + rate(motion_extractor_frames_skipped_total[5m]))
//
// P95 decode latency:
//
//	histogram_quantile(0.95, sum(rate(motion_extractor_stage_duration_seconds_bucket{stage="sample"}[5m])) by (le))
package metrics
