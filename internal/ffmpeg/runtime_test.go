package ffmpeg

import (
	"os/exec"
	"testing"
)

func TestNew(t *testing.T) {
	r := New(Config{})

	if r == nil {
		t.Fatal("New() returned nil")
	}

	cfg := r.Config()
	if cfg.FFmpegPath != "ffmpeg" || cfg.FFprobePath != "ffprobe" {
		t.Errorf("Expected default binary names, got %q and %q", cfg.FFmpegPath, cfg.FFprobePath)
	}
	if cfg.Preset != "slow" || cfg.CRF != 18 {
		t.Errorf("Expected preset slow/crf 18, got %s/%d", cfg.Preset, cfg.CRF)
	}
	if cfg.Threads < 1 {
		t.Errorf("Expected at least one thread, got %d", cfg.Threads)
	}
	if cfg.SeekAheadFrames != 90 {
		t.Errorf("Expected seek-ahead 90, got %d", cfg.SeekAheadFrames)
	}
	if r.processes == nil {
		t.Error("Expected processes map to be initialized")
	}
}

func TestNewKeepsExplicitConfig(t *testing.T) {
	r := New(Config{FFmpegPath: "/opt/ffmpeg", Preset: "veryslow", CRF: 12, Threads: 3, SeekAheadFrames: 10})
	cfg := r.Config()

	if cfg.FFmpegPath != "/opt/ffmpeg" || cfg.FFprobePath != "ffprobe" {
		t.Errorf("Unexpected paths %q %q", cfg.FFmpegPath, cfg.FFprobePath)
	}
	if cfg.Preset != "veryslow" || cfg.CRF != 12 || cfg.Threads != 3 || cfg.SeekAheadFrames != 10 {
		t.Errorf("Explicit config not kept: %+v", cfg)
	}
}

func TestAvailable(t *testing.T) {
	r := New(Config{FFmpegPath: "/nonexistent/ffmpeg", FFprobePath: "/nonexistent/ffprobe"})
	if err := r.Available(); err == nil {
		t.Error("Expected error for missing binaries")
	}

	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return
	}
	if err := New(Config{}).Available(); err != nil {
		t.Errorf("Expected ffmpeg to be available, got %v", err)
	}
}

func TestCleanupWithNoProcesses(t *testing.T) {
	r := New(Config{})
	r.Cleanup()
	if r.ActiveProcesses() != 0 {
		t.Errorf("Expected 0 processes, got %d", r.ActiveProcesses())
	}
}

func TestStartAndFinishTrackProcesses(t *testing.T) {
	path, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}
	r := New(Config{})

	cmd := exec.Command(path, "30")
	key, err := r.start("test", cmd)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if r.ActiveProcesses() != 1 {
		t.Errorf("Expected 1 tracked process, got %d", r.ActiveProcesses())
	}

	r.Cleanup()
	_ = cmd.Wait()
	r.finish(key)
	r.finish(key)

	if r.ActiveProcesses() != 0 {
		t.Errorf("Expected 0 tracked processes, got %d", r.ActiveProcesses())
	}
}

func TestStderrBufferTail(t *testing.T) {
	var b stderrBuffer
	if b.tail() != "" {
		t.Error("Expected empty tail")
	}

	_, _ = b.Write([]byte("  short message \n"))
	if got := b.tail(); got != "short message" {
		t.Errorf("Expected trimmed message, got %q", got)
	}

	b.Reset()
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	_, _ = b.Write(long)
	if got := b.tail(); len(got) != 515 {
		t.Errorf("Expected truncated tail of 515 bytes, got %d", len(got))
	}
}
