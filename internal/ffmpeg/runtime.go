package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"motion-extractor/internal/logging"
	"motion-extractor/internal/media"
	"motion-extractor/internal/metrics"
	"motion-extractor/internal/workers"

	"github.com/google/uuid"
)

// frameEpsilon matches the tolerance used when counting frames so that a
// timestamp computed as k/rate always maps back onto frame k.
const frameEpsilon = 1e-9

// Config locates the binaries and fixes output quality.
type Config struct {
	FFmpegPath  string
	FFprobePath string

	// Preset and CRF are the fixed high-quality H.264 settings.
	Preset string
	CRF    int

	// Threads per ffmpeg process. Zero derives it from the CPU budget.
	Threads int

	// SeekAheadFrames is how far a decode cursor reads forward before it
	// restarts ffmpeg at the target instead.
	SeekAheadFrames int
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		FFmpegPath:      "ffmpeg",
		FFprobePath:     "ffprobe",
		Preset:          "slow",
		CRF:             18,
		SeekAheadFrames: 90,
	}
}

// Runtime runs ffprobe and ffmpeg child processes.
type Runtime struct {
	cfg       Config
	processes map[string]*exec.Cmd
	processMu sync.Mutex

	encodersOnce sync.Once
	encoders     map[string]bool

	log *logging.Logger
}

var _ media.Runtime = (*Runtime)(nil)

// New creates a Runtime. Empty fields of cfg fall back to DefaultConfig.
func New(cfg Config) *Runtime {
	def := DefaultConfig()
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = def.FFmpegPath
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = def.FFprobePath
	}
	if cfg.Preset == "" {
		cfg.Preset = def.Preset
	}
	if cfg.CRF <= 0 {
		cfg.CRF = def.CRF
	}
	if cfg.Threads <= 0 {
		cfg.Threads = workers.ForFFmpeg()
	}
	if cfg.SeekAheadFrames <= 0 {
		cfg.SeekAheadFrames = def.SeekAheadFrames
	}

	return &Runtime{
		cfg:       cfg,
		processes: make(map[string]*exec.Cmd),
		log:       logging.For("ffmpeg"),
	}
}

// Config returns the effective configuration.
func (r *Runtime) Config() Config {
	return r.cfg
}

// Available checks that both binaries can be found.
func (r *Runtime) Available() error {
	if _, err := exec.LookPath(r.cfg.FFmpegPath); err != nil {
		return fmt.Errorf("ffmpeg not found at %q: %w", r.cfg.FFmpegPath, err)
	}
	if _, err := exec.LookPath(r.cfg.FFprobePath); err != nil {
		return fmt.Errorf("ffprobe not found at %q: %w", r.cfg.FFprobePath, err)
	}
	return nil
}

// Version returns the first line of `ffmpeg -version`.
func (r *Runtime) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, r.cfg.FFmpegPath, "-hide_banner", "-version").Output()
	if err != nil {
		return "", fmt.Errorf("ffmpeg -version failed: %w", err)
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line), nil
}

// start launches cmd and registers it so Cleanup can kill it.
func (r *Runtime) start(kind string, cmd *exec.Cmd) (string, error) {
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start %s process: %w", kind, err)
	}
	key := kind + ":" + uuid.NewString()

	r.processMu.Lock()
	r.processes[key] = cmd
	r.processMu.Unlock()
	metrics.FFmpegProcessesActive.Inc()

	r.log.Debug("Started %s (pid %d): %s", key, cmd.Process.Pid, strings.Join(cmd.Args, " "))
	return key, nil
}

// finish unregisters a process that has been waited for.
func (r *Runtime) finish(key string) {
	r.processMu.Lock()
	_, ok := r.processes[key]
	delete(r.processes, key)
	r.processMu.Unlock()
	if ok {
		metrics.FFmpegProcessesActive.Dec()
	}
}

// ActiveProcesses returns how many child processes are running.
func (r *Runtime) ActiveProcesses() int {
	r.processMu.Lock()
	defer r.processMu.Unlock()
	return len(r.processes)
}

// Cleanup kills all running child processes.
func (r *Runtime) Cleanup() {
	r.processMu.Lock()
	defer r.processMu.Unlock()

	for key, cmd := range r.processes {
		if cmd.Process != nil {
			logging.Info("Killing ffmpeg process %s", key)
			if err := cmd.Process.Kill(); err != nil {
				logging.Warn("failed to kill ffmpeg process %s: %v", key, err)
			}
		}
	}
}

// stderrBuffer collects a child's stderr. exec copies into it from its own
// goroutine, so reads go through the mutex.
type stderrBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *stderrBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *stderrBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *stderrBuffer) Reset() {
	b.mu.Lock()
	b.buf.Reset()
	b.mu.Unlock()
}

// tail returns the last few hundred bytes of stderr for error messages.
func (b *stderrBuffer) tail() string {
	const limit = 512
	s := strings.TrimSpace(b.String())
	if len(s) > limit {
		s = "..." + s[len(s)-limit:]
	}
	return s
}
