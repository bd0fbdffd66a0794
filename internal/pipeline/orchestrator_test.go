package pipeline

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"motion-extractor/internal/compositor"
	"motion-extractor/internal/media"
	"motion-extractor/internal/media/mediatest"
	"motion-extractor/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

var standardClip = mediatest.Clip{Width: 320, Height: 240, FrameRate: 30, Duration: 2}

func openClip(t *testing.T, clip mediatest.Clip) *media.Source {
	t.Helper()
	src, err := mediatest.OpenSource(t.TempDir(), clip)
	if err != nil {
		t.Fatalf("OpenSource failed: %v", err)
	}
	t.Cleanup(func() {
		if src.Refs() > 0 {
			_ = src.Release()
		}
	})
	return src
}

func assertReleased(t *testing.T, rt *mediatest.Runtime, src *media.Source) {
	t.Helper()
	if n := rt.OpenDecoders(); n != 0 {
		t.Errorf("Expected all decoders closed, %d still open", n)
	}
	if n := src.Refs(); n != 1 {
		t.Errorf("Expected only the caller's source reference, got %d", n)
	}
}

func TestRunEndToEnd(t *testing.T) {
	rt := mediatest.NewRuntime()
	src := openClip(t, standardClip)
	orch := New(rt, Options{})

	out, err := orch.Run(context.Background(), src, Config{FrameOffset: 10}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if out.Frames != 60 {
		t.Errorf("Expected 60 composed frames, got %d", out.Frames)
	}
	if len(out.Bytes) == 0 {
		t.Error("Expected non-empty output")
	}
	if !strings.HasPrefix(out.MIMEType, "video/") {
		t.Errorf("Expected a video MIME type, got %q", out.MIMEType)
	}

	header, err := mediatest.ParseOutput(out.Bytes)
	if err != nil {
		t.Fatalf("ParseOutput failed: %v", err)
	}
	if header.FrameRate != 30 {
		t.Errorf("Expected declared frame rate 30, got %v", header.FrameRate)
	}
	if header.Frames != 60 || header.Width != 320 || header.Height != 240 {
		t.Errorf("Unexpected header %+v", header)
	}

	state := orch.State()
	if state.Phase != PhaseCompleted {
		t.Errorf("Expected phase %s, got %s", PhaseCompleted, state.Phase)
	}
	if state.Output == nil || !bytes.Equal(state.Output.Bytes, out.Bytes) {
		t.Error("Expected RunState to carry the output")
	}
	if state.Progress != 1 || state.Composed != 60 || state.Skipped != 0 {
		t.Errorf("Unexpected final state %+v", state)
	}

	if rt.DecodersCreated() != 2 {
		t.Errorf("Expected exactly 2 decoders, got %d", rt.DecodersCreated())
	}
	assertReleased(t, rt, src)
}

func TestRunComposesCurrentOverInvertedOffset(t *testing.T) {
	rt := mediatest.NewRuntime()
	clip := mediatest.Clip{Width: 64, Height: 48, FrameRate: 30, Duration: 1}
	src := openClip(t, clip)

	if _, err := New(rt, Options{}).Run(context.Background(), src, Config{FrameOffset: 4}, nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	frames := rt.Outputs()[0].Frames()
	if len(frames) != 30 {
		t.Fatalf("Expected 30 frames, got %d", len(frames))
	}

	for _, k := range []int{0, 3, 4, 5, 17, 29} {
		want := compositor.Compose(
			mediatest.RenderFrame(k, 64, 48),
			mediatest.RenderFrame(max(0, k-4), 64, 48),
			compositor.Options{},
		)
		if !bytes.Equal(frames[k].Image.Pix, want.Pix) {
			t.Errorf("Frame %d does not match current %d over inverted offset %d", k, k, max(0, k-4))
		}
	}
}

func TestRunTiming(t *testing.T) {
	rt := mediatest.NewRuntime()
	src := openClip(t, standardClip)

	if _, err := New(rt, Options{}).Run(context.Background(), src, DefaultConfig(), nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	frames := rt.Outputs()[0].Frames()
	for i, f := range frames {
		if i > 0 && f.PTS <= frames[i-1].PTS {
			t.Fatalf("PTS not strictly increasing at %d: %v after %v", i, f.PTS, frames[i-1].PTS)
		}
		if f.Duration != 1.0/30 {
			t.Fatalf("Frame %d duration %v, expected %v", i, f.Duration, 1.0/30)
		}
	}
}

func TestRunProgress(t *testing.T) {
	rt := mediatest.NewRuntime()
	src := openClip(t, mediatest.Clip{Width: 32, Height: 24, FrameRate: 30, Duration: 2, MissingFrames: []int{7}})

	var values []float64
	_, err := New(rt, Options{}).Run(context.Background(), src, Config{FrameOffset: 3}, func(p float64) {
		values = append(values, p)
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(values) != 60 {
		t.Errorf("Expected progress after each of 60 iterations, got %d", len(values))
	}
	for i, v := range values {
		if v < 0 || v >= 1 {
			t.Errorf("Progress %v at %d outside [0,1)", v, i)
		}
		if i > 0 && v < values[i-1] {
			t.Errorf("Progress decreased at %d: %v < %v", i, v, values[i-1])
		}
	}
}

func TestRunSkipsUnavailableFrames(t *testing.T) {
	tests := []struct {
		name     string
		clip     mediatest.Clip
		expected int
	}{
		{
			// Frame 20 is missing for the current cursor at 20 and the
			// offset cursor at 30.
			name:     "Missing frame",
			clip:     mediatest.Clip{Width: 32, Height: 24, FrameRate: 30, Duration: 2, MissingFrames: []int{20}},
			expected: 58,
		},
		{
			name:     "Truncated stream",
			clip:     mediatest.Clip{Width: 32, Height: 24, FrameRate: 30, Duration: 2, AvailableFrames: 45},
			expected: 45,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := mediatest.NewRuntime()
			src := openClip(t, tt.clip)
			orch := New(rt, Options{})
			skippedBefore := testutil.ToFloat64(metrics.FramesSkippedTotal)

			out, err := orch.Run(context.Background(), src, Config{FrameOffset: 10}, nil)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if out.Frames != tt.expected {
				t.Errorf("Expected %d frames, got %d", tt.expected, out.Frames)
			}

			skipped := 60 - tt.expected
			if got := orch.State().Skipped; got != skipped {
				t.Errorf("Expected %d skipped in state, got %d", skipped, got)
			}
			if got := testutil.ToFloat64(metrics.FramesSkippedTotal) - skippedBefore; got != float64(skipped) {
				t.Errorf("Expected skipped counter +%d, got +%v", skipped, got)
			}
			assertReleased(t, rt, src)
		})
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	for _, offset := range []int{0, -1, 61, 1000} {
		rt := mediatest.NewRuntime()
		src := openClip(t, standardClip)
		orch := New(rt, Options{})

		_, err := orch.Run(context.Background(), src, Config{FrameOffset: offset}, nil)
		if !errors.Is(err, media.ErrInvalidConfig) {
			t.Errorf("Offset %d: expected ErrInvalidConfig, got %v", offset, err)
		}
		if rt.DecodersCreated() != 0 || len(rt.Outputs()) != 0 {
			t.Errorf("Offset %d: expected no resources acquired", offset)
		}
		if src.Refs() != 1 {
			t.Errorf("Offset %d: expected source untouched, got %d refs", offset, src.Refs())
		}
		if orch.State().Phase != PhaseIdle {
			t.Errorf("Offset %d: expected phase to stay idle, got %s", offset, orch.State().Phase)
		}
	}
}

func TestRunAlreadyRunning(t *testing.T) {
	rt := mediatest.NewRuntime()
	src := openClip(t, standardClip)
	orch := New(rt, Options{DecodeWorkers: 1})

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	rt.DecodeHook = func(ctx context.Context, ts float64) {
		once.Do(func() {
			close(started)
			<-release
		})
	}

	type result struct {
		frames int
		err    error
	}
	done := make(chan result, 1)
	go func() {
		out, err := orch.Run(context.Background(), src, Config{FrameOffset: 10}, nil)
		done <- result{out.Frames, err}
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("First run never started decoding")
	}

	before := orch.State()
	_, err := orch.Run(context.Background(), src, Config{FrameOffset: 5}, nil)
	if !errors.Is(err, media.ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}
	after := orch.State()
	if after.Phase != PhaseEncoding || after.Phase != before.Phase || after.Err != nil {
		t.Errorf("Expected in-flight state untouched, got %+v", after)
	}

	close(release)
	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("First run failed: %v", r.err)
		}
		if r.frames != 60 {
			t.Errorf("Expected first run to produce 60 frames, got %d", r.frames)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("First run did not finish")
	}
	assertReleased(t, rt, src)
}

func TestRunUnsupportedCodec(t *testing.T) {
	rt := mediatest.NewRuntime()
	rt.NoEncoder = true
	src := openClip(t, standardClip)
	orch := New(rt, Options{})

	out, err := orch.Run(context.Background(), src, DefaultConfig(), nil)
	if !errors.Is(err, media.ErrUnsupportedCodec) {
		t.Fatalf("Expected ErrUnsupportedCodec, got %v", err)
	}
	if media.Kind(err) != "unsupported_codec" {
		t.Errorf("Expected unsupported_codec error kind, got %s", media.Kind(err))
	}
	if len(out.Bytes) != 0 {
		t.Errorf("Expected no output bytes, got %d", len(out.Bytes))
	}

	state := orch.State()
	if state.Phase != PhaseFailed || !errors.Is(state.Err, media.ErrUnsupportedCodec) {
		t.Errorf("Expected failed state with ErrUnsupportedCodec, got %+v", state)
	}
	if state.Output != nil {
		t.Error("Expected no output in failed state")
	}
	if rt.Decodes() != 0 {
		t.Errorf("Expected no decode work, got %d decodes", rt.Decodes())
	}
	assertReleased(t, rt, src)
}

func TestRunNoVideoTrack(t *testing.T) {
	rt := mediatest.NewRuntime()
	src := openClip(t, mediatest.Clip{NoVideo: true, Duration: 2})
	orch := New(rt, Options{})

	_, err := orch.Run(context.Background(), src, DefaultConfig(), nil)
	if !errors.Is(err, media.ErrNoVideoTrack) {
		t.Fatalf("Expected ErrNoVideoTrack, got %v", err)
	}
	if orch.State().Phase != PhaseFailed {
		t.Errorf("Expected phase failed, got %s", orch.State().Phase)
	}
	if rt.DecodersCreated() != 0 {
		t.Errorf("Expected no decoders, got %d", rt.DecodersCreated())
	}
	assertReleased(t, rt, src)
}

func TestRunOpenOutputFailure(t *testing.T) {
	rt := mediatest.NewRuntime()
	rt.FailOpenOutput = errors.New("encoder crashed")
	src := openClip(t, standardClip)
	orch := New(rt, Options{})

	_, err := orch.Run(context.Background(), src, DefaultConfig(), nil)
	if err == nil || !strings.Contains(err.Error(), "encoder crashed") {
		t.Fatalf("Expected open failure, got %v", err)
	}
	if media.Kind(err) != "internal" {
		t.Errorf("Expected internal error kind, got %s", media.Kind(err))
	}
	assertReleased(t, rt, src)
}

func TestRunCancel(t *testing.T) {
	tests := []struct {
		name   string
		cancel func(orch *Orchestrator, cancelCtx context.CancelFunc)
	}{
		{"Orchestrator.Cancel", func(orch *Orchestrator, _ context.CancelFunc) { orch.Cancel() }},
		{"Context cancel", func(_ *Orchestrator, cancelCtx context.CancelFunc) { cancelCtx() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := mediatest.NewRuntime()
			src := openClip(t, standardClip)
			orch := New(rt, Options{})
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			calls := 0
			_, err := orch.Run(ctx, src, DefaultConfig(), func(p float64) {
				calls++
				if calls == 5 {
					tt.cancel(orch, cancel)
				}
			})
			if !errors.Is(err, media.ErrCanceled) {
				t.Fatalf("Expected ErrCanceled, got %v", err)
			}
			if calls != 5 {
				t.Errorf("Expected no iterations after cancel, got %d progress calls", calls)
			}

			state := orch.State()
			if state.Phase != PhaseCanceled || state.Output != nil {
				t.Errorf("Expected canceled state without output, got %+v", state)
			}

			enc := rt.Outputs()[0]
			if !enc.Aborted() || enc.Finalized() {
				t.Errorf("Expected output aborted and not finalized, got aborted=%v finalized=%v", enc.Aborted(), enc.Finalized())
			}
			assertReleased(t, rt, src)
		})
	}
}

func TestCancelWhenIdle(t *testing.T) {
	orch := New(mediatest.NewRuntime(), Options{})
	orch.Cancel()
	if orch.State().Phase != PhaseIdle {
		t.Errorf("Expected idle, got %s", orch.State().Phase)
	}
}

func TestRunAgainAfterTerminalState(t *testing.T) {
	rt := mediatest.NewRuntime()
	src := openClip(t, mediatest.Clip{Width: 32, Height: 24, FrameRate: 30, Duration: 1})
	orch := New(rt, Options{})

	if _, err := orch.Run(context.Background(), src, Config{FrameOffset: 0}, nil); err == nil {
		t.Fatal("Expected invalid config to be rejected")
	}

	rt.NoEncoder = true
	if _, err := orch.Run(context.Background(), src, DefaultConfig(), nil); err == nil {
		t.Fatal("Expected run without encoder to fail")
	}
	if orch.State().Phase != PhaseFailed {
		t.Fatalf("Expected failed, got %s", orch.State().Phase)
	}

	rt.NoEncoder = false
	out, err := orch.Run(context.Background(), src, DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("Fresh run failed: %v", err)
	}
	if out.Frames != 30 {
		t.Errorf("Expected 30 frames, got %d", out.Frames)
	}
	state := orch.State()
	if state.Phase != PhaseCompleted || state.Err != nil {
		t.Errorf("Expected clean completed state, got %+v", state)
	}
}

func TestRunConcurrentDecodeMatchesSequential(t *testing.T) {
	clip := mediatest.Clip{Width: 48, Height: 32, FrameRate: 25, Duration: 1.2, MissingFrames: []int{9}}

	run := func(workers int) []mediatest.Frame {
		rt := mediatest.NewRuntime()
		src := openClip(t, clip)
		if _, err := New(rt, Options{DecodeWorkers: workers}).Run(context.Background(), src, Config{FrameOffset: 6}, nil); err != nil {
			t.Fatalf("Run with %d workers failed: %v", workers, err)
		}
		assertReleased(t, rt, src)
		return rt.Outputs()[0].Frames()
	}

	sequential := run(1)
	concurrent := run(2)

	if len(sequential) != len(concurrent) {
		t.Fatalf("Expected same frame count, got %d and %d", len(sequential), len(concurrent))
	}
	for i := range sequential {
		if sequential[i].PTS != concurrent[i].PTS || !bytes.Equal(sequential[i].Image.Pix, concurrent[i].Image.Pix) {
			t.Errorf("Frame %d differs between sequential and concurrent decode", i)
		}
	}
}

func TestRunBrightness(t *testing.T) {
	clip := mediatest.Clip{Width: 32, Height: 24, FrameRate: 30, Duration: 0.5}

	mean := func(brightness float64) float64 {
		rt := mediatest.NewRuntime()
		src := openClip(t, clip)
		if _, err := New(rt, Options{}).Run(context.Background(), src, Config{FrameOffset: 2, Brightness: brightness}, nil); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		var sum, n float64
		for _, f := range rt.Outputs()[0].Frames() {
			for i := 0; i < len(f.Image.Pix); i += 4 {
				sum += float64(f.Image.Pix[i])
				n++
			}
		}
		return sum / n
	}

	if base, dimmed := mean(0), mean(-20); dimmed >= base {
		t.Errorf("Expected dimmed run darker than baseline, got %.2f >= %.2f", dimmed, base)
	}
}

func TestInspectDoesNotChangeState(t *testing.T) {
	rt := mediatest.NewRuntime()
	src := openClip(t, standardClip)
	orch := New(rt, Options{})

	info, err := orch.Inspect(context.Background(), src)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if info.Width != 320 || info.Height != 240 || info.FrameRate != 30 || info.TotalFrames() != 60 {
		t.Errorf("Unexpected track info %+v", info)
	}
	if orch.State().Phase != PhaseIdle {
		t.Errorf("Expected idle after Inspect, got %s", orch.State().Phase)
	}
}

func TestPhase(t *testing.T) {
	tests := []struct {
		phase    Phase
		active   bool
		terminal bool
	}{
		{PhaseIdle, false, false},
		{PhaseInspecting, true, false},
		{PhaseEncoding, true, false},
		{PhaseCompleted, false, true},
		{PhaseFailed, false, true},
		{PhaseCanceled, false, true},
	}
	for _, tt := range tests {
		if tt.phase.Active() != tt.active || tt.phase.Terminal() != tt.terminal {
			t.Errorf("%s: expected active=%v terminal=%v", tt.phase, tt.active, tt.terminal)
		}
	}
}
