package memory

import (
	"math"
	"os"
	"runtime/debug"
	"strconv"
	"strings"

	"motion-extractor/internal/logging"
)

// DefaultMemoryRatio leaves room for ffmpeg processes and frame buffers
// outside the Go heap.
const DefaultMemoryRatio = 0.75

const cgroupMemoryMax = "/sys/fs/cgroup/memory.max"

// Result describes what Configure did.
type Result struct {
	Configured bool

	// Source is "GOMEMLIMIT", "MEMORY_LIMIT", "cgroup" or "none".
	Source string

	ContainerLimit int64
	GoMemLimit     int64
	Ratio          float64
}

// env abstracts the process environment and cgroup file for tests.
type env struct {
	getenv     func(string) string
	readCgroup func() ([]byte, error)
	setLimit   func(int64) int64
}

var processEnv = env{
	getenv:     os.Getenv,
	readCgroup: func() ([]byte, error) { return os.ReadFile(cgroupMemoryMax) },
	setLimit:   debug.SetMemoryLimit,
}

// ConfigureFromEnv sets GOMEMLIMIT from the container limit. Call it early in
// main before large allocations.
func ConfigureFromEnv() Result {
	return configure(processEnv)
}

func configure(e env) Result {
	if v := e.getenv("GOMEMLIMIT"); v != "" {
		res := Result{Source: "GOMEMLIMIT"}
		if limit := e.setLimit(-1); limit > 0 && limit < math.MaxInt64 {
			res.Configured = true
			res.GoMemLimit = limit
		}
		logging.Info("GOMEMLIMIT set via environment: %s", v)
		return res
	}

	limit, source := containerLimit(e)
	if limit <= 0 {
		logging.Debug("No container memory limit found, GOMEMLIMIT not configured")
		return Result{Source: "none"}
	}

	ratio := DefaultMemoryRatio
	if v := e.getenv("MEMORY_RATIO"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		switch {
		case err != nil:
			logging.Warn("Failed to parse MEMORY_RATIO %q: %v, using default %.2f", v, err, DefaultMemoryRatio)
		case parsed <= 0 || parsed > 1:
			logging.Warn("MEMORY_RATIO %q out of range (0.0-1.0], using default %.2f", v, DefaultMemoryRatio)
		default:
			ratio = parsed
		}
	}

	goLimit := int64(float64(limit) * ratio)
	e.setLimit(goLimit)

	logging.Info("Configured GOMEMLIMIT: %s (%.0f%% of %s %s limit)",
		FormatBytes(goLimit), ratio*100, FormatBytes(limit), source)

	return Result{
		Configured:     true,
		Source:         source,
		ContainerLimit: limit,
		GoMemLimit:     goLimit,
		Ratio:          ratio,
	}
}

// containerLimit returns the memory limit in bytes and where it came from,
// or 0 when the container is unlimited.
func containerLimit(e env) (int64, string) {
	if v := e.getenv("MEMORY_LIMIT"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			logging.Warn("Ignoring invalid MEMORY_LIMIT %q", v)
			return 0, ""
		}
		return n, "MEMORY_LIMIT"
	}

	data, err := e.readCgroup()
	if err != nil {
		return 0, ""
	}
	v := strings.TrimSpace(string(data))
	if v == "max" {
		return 0, ""
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 0, ""
	}
	return n, "cgroup"
}

// FormatBytes renders b with binary units.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return strconv.FormatInt(b, 10) + " B"
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return strconv.FormatFloat(float64(b)/float64(div), 'f', 1, 64) + " " + string("KMGTPE"[exp]) + "iB"
}
