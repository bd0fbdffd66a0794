// Package sampler turns timestamps into frames scaled to the output size.
//
// A run holds two samplers, one per cursor. Each owns its decoder, so the
// current cursor never disturbs the seek position of the offset cursor.
package sampler

import (
	"context"
	"fmt"
	"image"
	"math"
	"time"

	"motion-extractor/internal/logging"
	"motion-extractor/internal/media"
	"motion-extractor/internal/metrics"
)

// DefaultCacheFrames is the rolling cache size used when Options leaves it
// unset.
const DefaultCacheFrames = 2

// Options configure a Sampler.
type Options struct {
	// Name labels log lines, e.g. "current" or "offset".
	Name string

	// FrameRate maps timestamps onto frame slots for the cache. Zero
	// disables caching.
	FrameRate float64

	// CacheFrames is how many recent frames to keep. Negative disables
	// caching, zero means DefaultCacheFrames.
	CacheFrames int

	// Scaler fills frames to the output size. Nil means the imaging scaler.
	Scaler media.Scaler
}

type entry struct {
	slot  int64
	frame *image.NRGBA
}

// Sampler decodes and scales frames for one cursor. It is not safe for
// concurrent use; the pipeline drives each sampler from one goroutine.
type Sampler struct {
	decoder media.Decoder
	width   int
	height  int
	rate    float64
	scaler  media.Scaler
	log     *logging.Logger

	capacity int
	cache    []entry
	closed   bool
}

// New binds a sampler to decoder. The output size is fixed for its lifetime.
// The sampler takes ownership of decoder and closes it in Close.
func New(decoder media.Decoder, width, height int, opts Options) (*Sampler, error) {
	if decoder == nil {
		return nil, fmt.Errorf("sampler needs a decoder: %w", media.ErrInvalidState)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid output size %dx%d: %w", width, height, media.ErrInvalidConfig)
	}

	capacity := opts.CacheFrames
	if capacity == 0 {
		capacity = DefaultCacheFrames
	}
	if capacity < 0 || opts.FrameRate <= 0 {
		capacity = 0
	}

	scaler := opts.Scaler
	if scaler == nil {
		scaler = media.NewImagingScaler()
	}

	name := opts.Name
	if name == "" {
		name = "cursor"
	}

	return &Sampler{
		decoder:  decoder,
		width:    width,
		height:   height,
		rate:     opts.FrameRate,
		scaler:   scaler,
		log:      logging.For("sampler").With("cursor", name),
		capacity: capacity,
		cache:    make([]entry, 0, capacity),
	}, nil
}

// Size returns the output dimensions.
func (s *Sampler) Size() (int, int) {
	return s.width, s.height
}

// SampleAt returns the frame displayed at ts, scaled to exactly fill the
// output size. Errors wrapping media.ErrFrameUnavailable mean there is no
// frame at or before ts. The returned image may be shared with the cache and
// must not be modified.
func (s *Sampler) SampleAt(ctx context.Context, ts float64) (*image.NRGBA, error) {
	if s.closed {
		return nil, fmt.Errorf("sample on closed sampler: %w", media.ErrInvalidState)
	}
	if ts < 0 || math.IsNaN(ts) || math.IsInf(ts, 0) {
		return nil, fmt.Errorf("invalid timestamp %v: %w", ts, media.ErrInvalidState)
	}

	slot := s.slot(ts)
	if frame, ok := s.lookup(slot); ok {
		metrics.SamplerCacheTotal.WithLabelValues("hit").Inc()
		s.log.Debug("frame slot %d cached", slot)
		return frame, nil
	}
	if s.capacity > 0 {
		metrics.SamplerCacheTotal.WithLabelValues("miss").Inc()
	}

	start := time.Now()
	decoded, err := s.decoder.DecodeFrameAt(ctx, ts)
	if err != nil {
		return nil, err
	}

	frame, err := s.scaler.Fill(decoded, s.width, s.height)
	if err != nil {
		return nil, fmt.Errorf("scale frame at %.3fs: %w", ts, err)
	}
	metrics.StageDuration.WithLabelValues("sample").Observe(time.Since(start).Seconds())

	s.store(slot, frame)
	return frame, nil
}

// Close releases the decoder. Calling Close more than once is a no-op.
func (s *Sampler) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.cache = nil
	return s.decoder.Close()
}

func (s *Sampler) slot(ts float64) int64 {
	if s.rate <= 0 {
		return -1
	}
	return int64(math.Floor(ts*s.rate + 1e-9))
}

func (s *Sampler) lookup(slot int64) (*image.NRGBA, bool) {
	if s.capacity == 0 {
		return nil, false
	}
	for _, e := range s.cache {
		if e.slot == slot {
			return e.frame, true
		}
	}
	return nil, false
}

func (s *Sampler) store(slot int64, frame *image.NRGBA) {
	if s.capacity == 0 {
		return
	}
	if len(s.cache) == s.capacity {
		copy(s.cache, s.cache[1:])
		s.cache = s.cache[:len(s.cache)-1]
	}
	s.cache = append(s.cache, entry{slot: slot, frame: frame})
}
