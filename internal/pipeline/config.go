package pipeline

import (
	"fmt"
	"math"

	"motion-extractor/internal/compositor"
	"motion-extractor/internal/media"
)

// Frame offset bounds and default.
const (
	MinFrameOffset     = 1
	MaxFrameOffset     = 60
	DefaultFrameOffset = 10
)

// Config is the caller's choice for one run. It is immutable once the run
// has started.
type Config struct {
	// FrameOffset is how many frames the offset cursor trails the current
	// cursor.
	FrameOffset int

	// Brightness is the optional post-composite adjustment in percent.
	Brightness float64
}

// DefaultConfig returns the configuration used when the caller has no
// preference.
func DefaultConfig() Config {
	return Config{FrameOffset: DefaultFrameOffset}
}

// Validate rejects configurations that must not start a run.
func (c Config) Validate() error {
	if c.FrameOffset < MinFrameOffset || c.FrameOffset > MaxFrameOffset {
		return fmt.Errorf("frame offset %d outside [%d, %d]: %w", c.FrameOffset, MinFrameOffset, MaxFrameOffset, media.ErrInvalidConfig)
	}
	if err := (compositor.Options{Brightness: c.Brightness}).Validate(); err != nil {
		return fmt.Errorf("%v: %w", err, media.ErrInvalidConfig)
	}
	return nil
}

// CurrentTime is the presentation time of output frame.
func CurrentTime(frame int, rate float64) float64 {
	return float64(frame) / rate
}

// OffsetTime is the timestamp sampled by the offset cursor for frame. It
// clamps to the start of the source for the first offset frames.
func OffsetTime(frame, offset int, rate float64) float64 {
	if frame < offset {
		return 0
	}
	return math.Max(0, CurrentTime(frame, rate)-float64(offset)/rate)
}

// TotalFrames is floor(duration * rate), tolerant of products such as
// 0.7*30 that land a hair below an integer.
func TotalFrames(duration, rate float64) int {
	return media.TrackInfo{FrameRate: rate, DurationSeconds: duration}.TotalFrames()
}
