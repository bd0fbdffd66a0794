package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"motion-extractor/internal/compositor"
	"motion-extractor/internal/inspect"
	"motion-extractor/internal/logging"
	"motion-extractor/internal/media"
	"motion-extractor/internal/metrics"
	"motion-extractor/internal/sampler"
	"motion-extractor/internal/sink"
	"motion-extractor/internal/workers"

	"golang.org/x/sync/errgroup"
)

// ProgressFunc receives frame/totalFrames after every loop iteration. It is
// called on the run's goroutine and must return quickly.
type ProgressFunc func(progress float64)

// Options are fixed for the life of an Orchestrator.
type Options struct {
	// Scaler fills decoded frames to the output size. Nil selects the
	// imaging scaler.
	Scaler media.Scaler

	// CacheFrames is passed to both samplers.
	CacheFrames int

	// DecodeWorkers is how many cursors decode at the same time. Zero asks
	// the workers package; 1 decodes sequentially.
	DecodeWorkers int
}

// Orchestrator runs extractions against a media runtime, one at a time.
type Orchestrator struct {
	rt        media.Runtime
	inspector *inspect.Inspector
	opts      Options
	log       *logging.Logger

	mu     sync.Mutex
	state  RunState
	cancel context.CancelFunc
}

// New creates an idle orchestrator.
func New(rt media.Runtime, opts Options) *Orchestrator {
	if opts.Scaler == nil {
		opts.Scaler = media.NewImagingScaler()
	}
	if opts.DecodeWorkers <= 0 {
		opts.DecodeWorkers = workers.DecodeCursors()
	}
	return &Orchestrator{
		rt:        rt,
		inspector: inspect.New(rt),
		opts:      opts,
		log:       logging.For("pipeline"),
		state:     RunState{Phase: PhaseIdle},
	}
}

// Inspect reports the TrackInfo a run of src would use. It does not touch
// the run state.
func (o *Orchestrator) Inspect(ctx context.Context, src *media.Source) (media.TrackInfo, error) {
	info, _, err := o.inspector.Inspect(ctx, src)
	return info, err
}

// State returns a snapshot of the current or last run.
func (o *Orchestrator) State() RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Cancel stops the active run between frames. It is a no-op when no run is
// active.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run extracts motion from src. The caller keeps its own reference on src;
// the run takes and returns another for its duration.
func (o *Orchestrator) Run(ctx context.Context, src *media.Source, cfg Config, onProgress ProgressFunc) (sink.Output, error) {
	runCtx, err := o.begin(ctx, cfg)
	if err != nil {
		metrics.RunsTotal.WithLabelValues("rejected").Inc()
		metrics.RunErrors.WithLabelValues(media.Kind(err)).Inc()
		return sink.Output{}, err
	}

	metrics.RunsInProgress.Inc()
	start := time.Now()

	out, err := o.execute(runCtx, src, cfg, onProgress)

	metrics.RunsInProgress.Dec()
	metrics.RunDuration.Observe(time.Since(start).Seconds())
	return out, o.finish(out, err)
}

// begin rejects the run or moves the orchestrator out of its idle/terminal
// phase. Rejections leave the state untouched.
func (o *Orchestrator) begin(ctx context.Context, cfg Config) (context.Context, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Phase.Active() {
		return nil, media.ErrAlreadyRunning
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.state = RunState{Phase: PhaseInspecting}
	return runCtx, nil
}

func (o *Orchestrator) finish(out sink.Output, err error) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}

	switch {
	case err == nil:
		o.state.Phase = PhaseCompleted
		o.state.Progress = 1
		o.state.Output = &out
		metrics.RunsTotal.WithLabelValues("completed").Inc()
		metrics.OutputBytes.Observe(float64(len(out.Bytes)))
		o.log.Info("Run completed: %d frames composed, %d skipped, %d bytes %s",
			o.state.Composed, o.state.Skipped, len(out.Bytes), out.MIMEType)
		return nil

	case errors.Is(err, media.ErrCanceled):
		o.state.Phase = PhaseCanceled
		o.state.Err = err
		metrics.RunsTotal.WithLabelValues("canceled").Inc()
		metrics.RunErrors.WithLabelValues("canceled").Inc()
		o.log.Info("Run canceled after %d frames", o.state.Composed)
		return err

	default:
		o.state.Phase = PhaseFailed
		o.state.Err = err
		metrics.RunsTotal.WithLabelValues("failed").Inc()
		metrics.RunErrors.WithLabelValues(media.Kind(err)).Inc()
		o.log.Error("Run failed: %v", err)
		return err
	}
}

func (o *Orchestrator) update(fn func(s *RunState)) {
	o.mu.Lock()
	fn(&o.state)
	o.mu.Unlock()
}

func canceled(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", media.ErrCanceled, context.Cause(ctx))
	}
	return err
}

func (o *Orchestrator) execute(ctx context.Context, src *media.Source, cfg Config, onProgress ProgressFunc) (out sink.Output, err error) {
	if err := src.Acquire(); err != nil {
		return out, err
	}
	defer func() {
		if rerr := src.Release(); rerr != nil {
			o.log.Warn("Failed to release source %s: %v", src.Name(), rerr)
		}
	}()

	info, track, err := o.inspector.Inspect(ctx, src)
	if err != nil {
		return out, canceled(ctx, err)
	}
	total := info.TotalFrames()
	if total == 0 {
		return out, fmt.Errorf("%s is shorter than one frame", src.Name())
	}
	o.update(func(s *RunState) { s.Info = info })

	width, height := int(info.Width), int(info.Height)

	current, err := o.newSampler(src, track, info, "current")
	if err != nil {
		return out, err
	}
	defer current.Close()

	offset, err := o.newSampler(src, track, info, "offset")
	if err != nil {
		return out, err
	}
	defer offset.Close()

	sk, err := sink.Open(ctx, o.rt, sink.Config{Width: width, Height: height, FrameRate: info.FrameRate})
	if err != nil {
		return out, canceled(ctx, err)
	}
	finalized := false
	defer func() {
		if !finalized {
			_ = sk.Abort()
		}
	}()

	o.update(func(s *RunState) { s.Phase = PhaseEncoding })
	o.log.Info("Encoding %s: %d frames at %.3f fps, offset %d, %dx%d, %d decode worker(s)",
		src.Name(), total, info.FrameRate, cfg.FrameOffset, width, height, o.opts.DecodeWorkers)

	frameDuration := info.FrameDuration()
	composeOpts := compositor.Options{Brightness: cfg.Brightness}

	for frame := 0; frame < total; frame++ {
		if ctx.Err() != nil {
			return out, canceled(ctx, nil)
		}

		currentTS := CurrentTime(frame, info.FrameRate)
		offsetTS := OffsetTime(frame, cfg.FrameOffset, info.FrameRate)

		cur, off, err := o.sampleBoth(ctx, current, offset, currentTS, offsetTS)
		switch {
		case errors.Is(err, media.ErrFrameUnavailable):
			metrics.FramesSkippedTotal.Inc()
			o.log.Debug("Skipping frame %d at %.3fs: %v", frame, currentTS, err)
			o.progress(frame, total, false, onProgress)
			continue
		case err != nil:
			return out, canceled(ctx, err)
		}

		composeStart := time.Now()
		composed := compositor.Compose(cur, off, composeOpts)
		metrics.StageDuration.WithLabelValues("compose").Observe(time.Since(composeStart).Seconds())

		if err := sk.Push(sink.ComposedFrame{
			Image:                   composed,
			PresentationTimeSeconds: currentTS,
			DurationSeconds:         frameDuration,
		}); err != nil {
			return out, canceled(ctx, err)
		}
		metrics.FramesComposedTotal.Inc()
		o.progress(frame, total, true, onProgress)
	}

	if ctx.Err() != nil {
		return out, canceled(ctx, nil)
	}
	if err := sk.Close(); err != nil {
		return out, err
	}
	out, err = sk.Finalize(ctx)
	if err != nil {
		return out, canceled(ctx, err)
	}
	finalized = true
	return out, nil
}

func (o *Orchestrator) newSampler(src *media.Source, track media.TrackRef, info media.TrackInfo, name string) (*sampler.Sampler, error) {
	dec, err := o.rt.NewDecoder(src, track, info)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s decoder: %w", name, err)
	}
	s, err := sampler.New(dec, int(info.Width), int(info.Height), sampler.Options{
		Name:        name,
		FrameRate:   info.FrameRate,
		CacheFrames: o.opts.CacheFrames,
		Scaler:      o.opts.Scaler,
	})
	if err != nil {
		_ = dec.Close()
		return nil, err
	}
	return s, nil
}

// sampleBoth decodes the pair of frames for one output frame, concurrently
// when more than one decode worker is allowed.
func (o *Orchestrator) sampleBoth(ctx context.Context, current, offset *sampler.Sampler, currentTS, offsetTS float64) (cur, off *image.NRGBA, err error) {
	if o.opts.DecodeWorkers < 2 {
		if cur, err = current.SampleAt(ctx, currentTS); err != nil {
			return nil, nil, err
		}
		if off, err = offset.SampleAt(ctx, offsetTS); err != nil {
			return nil, nil, err
		}
		return cur, off, nil
	}

	var g errgroup.Group
	g.Go(func() error {
		var err error
		cur, err = current.SampleAt(ctx, currentTS)
		return err
	})
	g.Go(func() error {
		var err error
		off, err = offset.SampleAt(ctx, offsetTS)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return cur, off, nil
}

func (o *Orchestrator) progress(frame, total int, composed bool, onProgress ProgressFunc) {
	p := float64(frame) / float64(total)
	o.update(func(s *RunState) {
		s.Progress = p
		if composed {
			s.Composed++
		} else {
			s.Skipped++
		}
	})
	if onProgress != nil {
		onProgress(p)
	}
}
