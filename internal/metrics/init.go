package metrics

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
func InitializeMetrics() {
	for _, outcome := range []string{"completed", "failed", "canceled", "rejected"} {
		RunsTotal.WithLabelValues(outcome)
	}

	for _, kind := range []string{"no_video_track", "unsupported_codec", "invalid_state",
		"already_running", "invalid_config", "canceled", "internal"} {
		RunErrors.WithLabelValues(kind)
	}

	for _, result := range []string{"hit", "miss"} {
		SamplerCacheTotal.WithLabelValues(result)
	}

	for _, op := range []string{"create_run", "update_run_phase", "finish_run", "get_run",
		"list_runs", "delete_runs", "history_stats"} {
		for _, status := range []string{"success", "error"} {
			DBQueryTotal.WithLabelValues(op, status)
		}
		DBQueryDuration.WithLabelValues(op)
	}

	for _, stage := range []string{"inspect", "sample", "compose", "encode", "finalize"} {
		StageDuration.WithLabelValues(stage)
	}
}
