// Package inspect derives the TrackInfo of a source: which track to read,
// how fast its frames really arrive, how big they are displayed and how
// long the whole container runs.
package inspect

import (
	"context"
	"fmt"
	"math"
	"time"

	"motion-extractor/internal/logging"
	"motion-extractor/internal/media"
	"motion-extractor/internal/metrics"
)

// Inspector wraps a media.Prober.
type Inspector struct {
	prober media.Prober
	log    *logging.Logger
}

// New creates an Inspector backed by prober.
func New(prober media.Prober) *Inspector {
	return &Inspector{prober: prober, log: logging.For("inspect")}
}

// Inspect selects the first video track of src and measures it.
//
// The frame rate is the measured average packet rate, never the nominal
// rate, because several encoders write wrong nominal rates. The duration is
// the longest of the container and the video track so that no visible frame
// is cut off when audio and video lengths differ.
func (i *Inspector) Inspect(ctx context.Context, src *media.Source) (media.TrackInfo, media.TrackRef, error) {
	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues("inspect").Observe(time.Since(start).Seconds())
	}()

	tracks, err := i.prober.ListVideoTracks(ctx, src)
	if err != nil {
		return media.TrackInfo{}, media.TrackRef{}, fmt.Errorf("failed to list tracks of %s: %w", src.Name(), err)
	}
	if len(tracks) == 0 {
		return media.TrackInfo{}, media.TrackRef{}, fmt.Errorf("%s: %w", src.Name(), media.ErrNoVideoTrack)
	}
	track := tracks[0]

	rate, err := i.prober.MeasurePacketRate(ctx, src, track)
	if err != nil {
		return media.TrackInfo{}, track, fmt.Errorf("failed to measure frame rate of %s: %w", src.Name(), err)
	}
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return media.TrackInfo{}, track, fmt.Errorf("measured frame rate %v of %s is not usable", rate, src.Name())
	}
	if track.NominalFrameRate > 0 && math.Abs(track.NominalFrameRate-rate) > 0.01 {
		i.log.Warn("%s declares %.3f fps but packets arrive at %.3f fps; using the measured rate",
			src.Name(), track.NominalFrameRate, rate)
	}

	containerDuration, err := i.prober.ContainerDuration(ctx, src)
	if err != nil {
		return media.TrackInfo{}, track, fmt.Errorf("failed to read duration of %s: %w", src.Name(), err)
	}
	duration := math.Max(containerDuration, track.DurationSeconds)
	if duration <= 0 {
		return media.TrackInfo{}, track, fmt.Errorf("%s has no measurable duration", src.Name())
	}

	width, height := track.DisplaySize()
	info := media.TrackInfo{
		Width:           uint(width),
		Height:          uint(height),
		FrameRate:       rate,
		DurationSeconds: duration,
	}

	i.log.Info("%s: track %d (%s) %dx%d, %.3f fps, %.3fs, %d frames",
		src.Name(), track.Index, track.Codec, width, height, rate, duration, info.TotalFrames())
	return info, track, nil
}
