/*
Package workers sizes the parallelism of a motion extraction run.

Counts are derived from GOMAXPROCS rather than runtime.NumCPU so that
container CPU limits are respected: a pod limited to 2 CPUs on a 64-core node
gets 2, not 64.

A run has exactly two decode cursors (current and offset), so the pipeline
asks for at most two workers:

	if workers.DecodeCursors() > 1 {
		// decode current and offset frames concurrently
	}

The ffmpeg runtime uses ForFFmpeg to pick the -threads value for each
decoder and encoder process.

# Environment Variable Override

DECODE_WORKERS overrides the automatic calculation. Setting it to 1 forces
the sequential decode path, which is useful when debugging a run or when
ffmpeg processes compete with other workloads:

	env:
	- name: DECODE_WORKERS
	  value: "1"
*/
package workers
