// Package sink accepts composed frames in presentation order and produces a
// finished, in-memory output container.
//
// The whole output lives in memory until Finalize returns it. Long or large
// sources therefore need memory proportional to the encoded output.
package sink

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"motion-extractor/internal/logging"
	"motion-extractor/internal/media"
	"motion-extractor/internal/metrics"
)

// Config describes the output stream.
type Config struct {
	Width     int
	Height    int
	FrameRate float64
}

// Validate checks that the output can be negotiated at all.
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("output size %dx%d: %w", c.Width, c.Height, media.ErrInvalidConfig)
	}
	if c.FrameRate <= 0 {
		return fmt.Errorf("output frame rate %v: %w", c.FrameRate, media.ErrInvalidConfig)
	}
	return nil
}

// ComposedFrame is one output frame and its timing.
type ComposedFrame struct {
	Image                   image.Image
	PresentationTimeSeconds float64
	DurationSeconds         float64
}

// Output is a finished container.
type Output struct {
	Bytes     []byte
	MIMEType  string
	FrameRate float64

	// Frames counts composed frames pushed into the sink. Encoders that
	// write at a constant rate repeat a frame over skipped timestamps, so
	// the container can hold more frames than this.
	Frames int
	Codec  string
}

type state int

const (
	stateOpen state = iota
	stateClosed
	stateFinalized
	stateAborted
)

// Sink wraps one encoder for the duration of a run.
type Sink struct {
	cfg     Config
	codec   media.CodecRef
	encoder media.Encoder
	log     *logging.Logger

	mu      sync.Mutex
	state   state
	frames  int
	lastPTS float64
}

// Open negotiates an encoder for cfg and starts the output. It returns an
// error wrapping media.ErrUnsupportedCodec when no encoder fits.
func Open(ctx context.Context, rt media.Runtime, cfg Config) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	codec, ok := rt.NegotiateEncoder(cfg.Width, cfg.Height)
	if !ok {
		return nil, fmt.Errorf("%dx%d: %w", cfg.Width, cfg.Height, media.ErrUnsupportedCodec)
	}

	enc, err := rt.OpenOutput(ctx, codec, media.OutputConfig{
		Width:     cfg.Width,
		Height:    cfg.Height,
		FrameRate: cfg.FrameRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s output: %w", codec.Name, err)
	}

	log := logging.For("sink").With("codec", codec.Name)
	log.Info("Opened %dx%d output at %.3f fps (%s)", cfg.Width, cfg.Height, cfg.FrameRate, codec.MIMEType)

	return &Sink{cfg: cfg, codec: codec, encoder: enc, log: log}, nil
}

// Codec returns the negotiated codec.
func (s *Sink) Codec() media.CodecRef {
	return s.codec
}

// Frames returns how many frames have been accepted.
func (s *Sink) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Push encodes one frame. Presentation times must strictly increase.
func (s *Sink) Push(frame ComposedFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateOpen {
		return fmt.Errorf("push after close: %w", media.ErrInvalidState)
	}
	if s.frames > 0 && frame.PresentationTimeSeconds <= s.lastPTS {
		return fmt.Errorf("pts %.6f not after %.6f: %w", frame.PresentationTimeSeconds, s.lastPTS, media.ErrInvalidState)
	}
	if frame.Image == nil {
		return fmt.Errorf("push of nil frame: %w", media.ErrInvalidState)
	}

	start := time.Now()
	if err := s.encoder.EncodeFrame(frame.Image, frame.PresentationTimeSeconds, frame.DurationSeconds); err != nil {
		return fmt.Errorf("encode frame at %.3fs: %w", frame.PresentationTimeSeconds, err)
	}
	metrics.StageDuration.WithLabelValues("encode").Observe(time.Since(start).Seconds())

	s.frames++
	s.lastPTS = frame.PresentationTimeSeconds
	return nil
}

// Close ends the input. No frames are accepted afterwards. Calling it twice
// is harmless.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateOpen:
		s.state = stateClosed
		return nil
	case stateClosed:
		return nil
	default:
		return fmt.Errorf("close in state %d: %w", s.state, media.ErrInvalidState)
	}
}

// Finalize flushes the encoder and returns the container. It requires Close
// and can succeed once.
func (s *Sink) Finalize(ctx context.Context) (Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateClosed {
		return Output{}, fmt.Errorf("finalize before close: %w", media.ErrInvalidState)
	}

	start := time.Now()
	data, mime, err := s.encoder.Finalize(ctx)
	if err != nil {
		s.state = stateAborted
		_ = s.encoder.Abort()
		return Output{}, fmt.Errorf("finalize output: %w", err)
	}
	s.state = stateFinalized
	metrics.StageDuration.WithLabelValues("finalize").Observe(time.Since(start).Seconds())

	if mime == "" {
		mime = s.codec.MIMEType
	}
	s.log.Info("Finalized %d frames into %d bytes (%s)", s.frames, len(data), mime)

	return Output{
		Bytes:     data,
		MIMEType:  mime,
		FrameRate: s.cfg.FrameRate,
		Frames:    s.frames,
		Codec:     s.codec.Name,
	}, nil
}

// Abort discards partial output. It is a no-op after Finalize or a previous
// Abort.
func (s *Sink) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateFinalized || s.state == stateAborted {
		return nil
	}
	s.state = stateAborted
	s.log.Debug("Aborting output after %d frames", s.frames)
	return s.encoder.Abort()
}
