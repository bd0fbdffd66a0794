// Package memory sizes the Go heap limit for a containerized service.
//
// Outputs are held in memory until they are downloaded or evicted, and every
// run also drives ffmpeg child processes whose memory the Go runtime cannot
// see. The service therefore sets GOMEMLIMIT to a fraction of the container
// limit so the garbage collector works harder before the kernel OOM killer
// steps in.
//
// The limit is taken from, in order:
//
//   - GOMEMLIMIT, if already set (reported, never changed)
//   - MEMORY_LIMIT in bytes, as passed by the Kubernetes Downward API
//   - the cgroup v2 memory.max file
//
// MEMORY_RATIO overrides the default fraction.
package memory
