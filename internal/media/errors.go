package media

import (
	"context"
	"errors"
)

// Sentinel errors for the extraction run. Callers match them with errors.Is;
// lower layers wrap them with context via fmt.Errorf("...: %w").
var (
	// ErrNoVideoTrack means the source has no track classified as video.
	// Terminal, not retried.
	ErrNoVideoTrack = errors.New("no video track found in source")

	// ErrUnsupportedCodec means encoder negotiation found nothing able to
	// encode the requested dimensions. Terminal, not retried.
	ErrUnsupportedCodec = errors.New("no usable video encoder: this runtime lacks encoding support for the requested dimensions")

	// ErrFrameUnavailable means no frame exists at or before a requested
	// timestamp. The pipeline skips the output frame.
	ErrFrameUnavailable = errors.New("frame unavailable")

	// ErrInvalidState means an operation was called out of sequence.
	ErrInvalidState = errors.New("invalid state")

	// ErrAlreadyRunning rejects a second concurrent run on one orchestrator,
	// and a new run when the service is at its active-run limit.
	ErrAlreadyRunning = errors.New("processing already in progress")

	// ErrInvalidConfig rejects a run configuration before any work starts.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrCanceled is the terminal error of a run stopped by its caller.
	ErrCanceled = errors.New("run canceled")
)

// Kind returns a short stable label for err, used for metrics and API
// responses.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrNoVideoTrack):
		return "no_video_track"
	case errors.Is(err, ErrUnsupportedCodec):
		return "unsupported_codec"
	case errors.Is(err, ErrFrameUnavailable):
		return "frame_unavailable"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrAlreadyRunning):
		return "already_running"
	case errors.Is(err, ErrInvalidConfig):
		return "invalid_config"
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}
