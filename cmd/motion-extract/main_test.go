package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"motion-extractor/internal/media"
	"motion-extractor/internal/media/mediatest"
	"motion-extractor/internal/pipeline"
)

func writeClip(t *testing.T, c mediatest.Clip) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.clip")
	if err := os.WriteFile(path, c.Encode(), 0o644); err != nil {
		t.Fatalf("failed to write clip: %v", err)
	}
	return path
}

func testConsole(interactive bool) (console, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	return console{stdout: &stdout, stderr: &stderr, interactive: interactive}, &stdout, &stderr
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
		want    options
	}{
		{
			name: "defaults",
			args: []string{"-in", "a.mp4", "-out", "b.mp4"},
			want: options{in: "a.mp4", out: "b.mp4", offset: pipeline.DefaultFrameOffset},
		},
		{
			name: "all flags",
			args: []string{"-in", "a.mp4", "-out", "b.mp4", "-offset", "3", "-brightness", "-15", "-workers", "1", "-vips", "-v"},
			want: options{in: "a.mp4", out: "b.mp4", offset: 3, brightness: -15, workers: 1, vips: true, verbose: true},
		},
		{name: "missing out", args: []string{"-in", "a.mp4"}, wantErr: true},
		{name: "missing in", args: []string{"-out", "b.mp4"}, wantErr: true},
		{name: "same file", args: []string{"-in", "a.mp4", "-out", "./a.mp4"}, wantErr: true},
		{name: "extra arguments", args: []string{"-in", "a.mp4", "-out", "b.mp4", "c.mp4"}, wantErr: true},
		{name: "bad offset", args: []string{"-in", "a.mp4", "-out", "b.mp4", "-offset", "x"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var output bytes.Buffer
			got, err := parseFlags(tt.args, &output)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error, got nil")
				}
				if output.Len() == 0 {
					t.Error("Expected usage output")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestParseFlagsHelp(t *testing.T) {
	var output bytes.Buffer
	_, err := parseFlags([]string{"-h"}, &output)
	if !errors.Is(err, flag.ErrHelp) {
		t.Errorf("Expected flag.ErrHelp, got %v", err)
	}
	if !strings.Contains(output.String(), "Usage: motion-extract") {
		t.Errorf("Expected usage text, got %q", output.String())
	}
}

func TestRunWritesOutput(t *testing.T) {
	in := writeClip(t, mediatest.Clip{Width: 64, Height: 48, FrameRate: 25, Duration: 1})
	out := filepath.Join(t.TempDir(), "motion.mp4")
	con, stdout, stderr := testConsole(false)

	code := run(context.Background(), mediatest.NewRuntime(), nil,
		options{in: in, out: out, offset: 2, workers: 1}, con)
	if code != exitOK {
		t.Fatalf("Expected exit %d, got %d (stderr: %s)", exitOK, code, stderr.String())
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("Expected output file: %v", err)
	}
	header, err := mediatest.ParseOutput(data)
	if err != nil {
		t.Fatalf("ParseOutput failed: %v", err)
	}
	if header.Frames != 25 || header.Width != 64 || header.Height != 48 {
		t.Errorf("Unexpected output header %+v", header)
	}
	if !strings.Contains(stdout.String(), "Wrote "+out+": 25 frames at 25 fps") {
		t.Errorf("Unexpected summary %q", stdout.String())
	}
	if strings.Contains(stdout.String(), "Encoding:") {
		t.Error("Expected no progress line when not interactive")
	}

	entries, _ := os.ReadDir(filepath.Dir(out))
	if len(entries) != 1 {
		t.Errorf("Expected only the output file, found %d entries", len(entries))
	}
}

func TestRunProgressLine(t *testing.T) {
	in := writeClip(t, mediatest.Clip{Width: 32, Height: 32, FrameRate: 10, Duration: 1})
	out := filepath.Join(t.TempDir(), "motion.mp4")
	con, stdout, _ := testConsole(true)

	if code := run(context.Background(), mediatest.NewRuntime(), nil,
		options{in: in, out: out, offset: 1, workers: 1}, con); code != exitOK {
		t.Fatalf("Expected exit %d, got %d", exitOK, code)
	}

	text := stdout.String()
	if !strings.Contains(text, "\rEncoding:   0%") || !strings.Contains(text, "\rEncoding:  90%") {
		t.Errorf("Expected progress updates, got %q", text)
	}
	if strings.Contains(text, "100%") {
		t.Error("Progress must stay below 100% while encoding")
	}
}

func TestRunFailures(t *testing.T) {
	tests := []struct {
		name       string
		clip       *mediatest.Clip
		runtime    func() *mediatest.Runtime
		offset     int
		brightness float64
		wantCode   int
		wantStderr string
	}{
		{
			name:       "invalid offset",
			clip:       &mediatest.Clip{Width: 32, Height: 32, FrameRate: 10, Duration: 1},
			runtime:    mediatest.NewRuntime,
			offset:     61,
			wantCode:   exitUsage,
			wantStderr: "frame offset 61",
		},
		{
			name:       "invalid brightness",
			clip:       &mediatest.Clip{Width: 32, Height: 32, FrameRate: 10, Duration: 1},
			runtime:    mediatest.NewRuntime,
			offset:     10,
			brightness: 150,
			wantCode:   exitUsage,
			wantStderr: "brightness",
		},
		{
			name:       "brightness not a number",
			clip:       &mediatest.Clip{Width: 32, Height: 32, FrameRate: 10, Duration: 1},
			runtime:    mediatest.NewRuntime,
			offset:     10,
			brightness: math.NaN(),
			wantCode:   exitUsage,
			wantStderr: "not a finite number",
		},
		{
			name:       "missing input",
			runtime:    mediatest.NewRuntime,
			offset:     10,
			wantCode:   exitFailed,
			wantStderr: "source not accessible",
		},
		{
			name:       "no video track",
			clip:       &mediatest.Clip{NoVideo: true, Duration: 1},
			runtime:    mediatest.NewRuntime,
			offset:     10,
			wantCode:   exitFailed,
			wantStderr: "audio-only",
		},
		{
			name: "no encoder",
			clip: &mediatest.Clip{Width: 32, Height: 32, FrameRate: 10, Duration: 1},
			runtime: func() *mediatest.Runtime {
				rt := mediatest.NewRuntime()
				rt.NoEncoder = true
				return rt
			},
			offset:     10,
			wantCode:   exitFailed,
			wantStderr: media.ErrUnsupportedCodec.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := filepath.Join(t.TempDir(), "missing.mp4")
			if tt.clip != nil {
				in = writeClip(t, *tt.clip)
			}
			out := filepath.Join(t.TempDir(), "motion.mp4")
			con, _, stderr := testConsole(false)

			code := run(context.Background(), tt.runtime(), nil,
				options{in: in, out: out, offset: tt.offset, brightness: tt.brightness, workers: 1}, con)
			if code != tt.wantCode {
				t.Errorf("Expected exit %d, got %d", tt.wantCode, code)
			}
			if !strings.Contains(stderr.String(), tt.wantStderr) {
				t.Errorf("Expected stderr to contain %q, got %q", tt.wantStderr, stderr.String())
			}
			if _, err := os.Stat(out); !os.IsNotExist(err) {
				t.Error("Expected no output file after failure")
			}
		})
	}
}

func TestRunCanceled(t *testing.T) {
	in := writeClip(t, mediatest.Clip{Width: 32, Height: 32, FrameRate: 10, Duration: 1})
	out := filepath.Join(t.TempDir(), "motion.mp4")
	con, _, stderr := testConsole(false)

	ctx, cancel := context.WithCancel(context.Background())
	rt := mediatest.NewRuntime()
	rt.DecodeHook = func(context.Context, float64) { cancel() }

	code := run(ctx, rt, nil, options{in: in, out: out, offset: 1, workers: 1}, con)
	if code != exitFailed {
		t.Errorf("Expected exit %d, got %d", exitFailed, code)
	}
	if !strings.Contains(stderr.String(), "canceled") {
		t.Errorf("Expected canceled message, got %q", stderr.String())
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("Expected no output file after cancel")
	}
}

func TestWriteOutputReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mp4")
	if err := os.WriteFile(path, []byte("old"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := writeOutput(path, []byte("new")); err != nil {
		t.Fatalf("writeOutput failed: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "new" {
		t.Errorf("Expected %q, got %q", "new", data)
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != outFileMode {
		t.Errorf("Expected mode %o, got %o", outFileMode, info.Mode().Perm())
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("MOTION_TEST_INT", "23")
	if got := envInt("MOTION_TEST_INT"); got != 23 {
		t.Errorf("Expected 23, got %d", got)
	}
	t.Setenv("MOTION_TEST_INT", "abc")
	if got := envInt("MOTION_TEST_INT"); got != 0 {
		t.Errorf("Expected 0, got %d", got)
	}
}
