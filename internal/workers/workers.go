package workers

import (
	"os"
	"runtime"
	"strconv"
)

// EnvOverride is the environment variable that pins the worker count.
const EnvOverride = "DECODE_WORKERS"

// Count returns a worker count of multiplier workers per available CPU,
// capped at limit (0 for no cap) and never below 1.
//
// DECODE_WORKERS takes precedence when set to a positive integer.
func Count(multiplier float64, limit int) int {
	if override := os.Getenv(EnvOverride); override != "" {
		if count, err := strconv.Atoi(override); err == nil && count > 0 {
			if limit > 0 && count > limit {
				return limit
			}
			return count
		}
	}

	available := runtime.GOMAXPROCS(0)

	workers := int(float64(available) * multiplier)
	if workers < 1 {
		workers = 1
	}
	if limit > 0 && workers > limit {
		workers = limit
	}
	return workers
}

// ForCPU returns one worker per CPU, capped at limit.
func ForCPU(limit int) int {
	return Count(1.0, limit)
}

// DecodeCursors returns how many of the two decode cursors of a run may
// work at the same time: 1 (sequential) or 2 (concurrent).
func DecodeCursors() int {
	return ForCPU(2)
}

// ForFFmpeg returns the thread count for one ffmpeg process. Two decoders
// and one encoder run per extraction, so each gets a third of the CPUs.
func ForFFmpeg() int {
	n := runtime.GOMAXPROCS(0) / 3
	if n < 1 {
		n = 1
	}
	return n
}

// ForRuns returns how many extractions may run at once. Each run keeps three
// ffmpeg processes busy, so one run is allowed per four CPUs.
func ForRuns() int {
	n := runtime.GOMAXPROCS(0) / 4
	if n < 1 {
		n = 1
	}
	return n
}
