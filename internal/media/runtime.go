package media

import (
	"context"
	"image"
)

// Prober answers questions about a source's tracks.
type Prober interface {
	// ListVideoTracks returns the video tracks in container order.
	ListVideoTracks(ctx context.Context, src *Source) ([]TrackRef, error)

	// MeasurePacketRate returns the average packet rate of a track,
	// measured from packet timestamps rather than container metadata.
	MeasurePacketRate(ctx context.Context, src *Source, track TrackRef) (float64, error)

	// ContainerDuration returns the duration of the whole container.
	ContainerDuration(ctx context.Context, src *Source) (float64, error)
}

// Decoder is one independent decode cursor over a track. Implementations
// must not share mutable seek state between instances.
type Decoder interface {
	// DecodeFrameAt returns the frame whose presentation interval contains
	// ts, or an error wrapping ErrFrameUnavailable.
	DecodeFrameAt(ctx context.Context, ts float64) (image.Image, error)
	Close() error
}

// Encoder receives frames in presentation order and builds an output
// container in memory.
type Encoder interface {
	EncodeFrame(img image.Image, pts, duration float64) error

	// Finalize flushes the encoder and returns the container bytes and MIME
	// type. It may be called once.
	Finalize(ctx context.Context) ([]byte, string, error)

	// Abort discards everything written so far and releases the encoder.
	Abort() error
}

// Runtime is the full surface a motion extraction run needs from the media
// stack.
type Runtime interface {
	Prober

	// NewDecoder creates a decode cursor bound to track. info carries the
	// measured frame rate used to map timestamps onto frames. The decoder
	// takes its own reference on src and releases it on Close.
	NewDecoder(src *Source, track TrackRef, info TrackInfo) (Decoder, error)

	// NegotiateEncoder picks an encoder for the given size, or reports false.
	NegotiateEncoder(width, height int) (CodecRef, bool)

	// OpenOutput starts an encoder for codec.
	OpenOutput(ctx context.Context, codec CodecRef, cfg OutputConfig) (Encoder, error)
}
