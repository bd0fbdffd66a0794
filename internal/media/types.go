package media

import (
	"image"
	"math"
)

// frameCountEpsilon absorbs float error in duration*rate products such as
// 0.7*30 = 20.999999999999996.
const frameCountEpsilon = 1e-9

// TrackInfo describes the primary video track of a source. It is derived
// once per run and never changes afterwards.
type TrackInfo struct {
	Width           uint    `json:"width"`
	Height          uint    `json:"height"`
	FrameRate       float64 `json:"frameRate"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// TotalFrames returns floor(DurationSeconds * FrameRate).
func (t TrackInfo) TotalFrames() int {
	if t.FrameRate <= 0 || t.DurationSeconds <= 0 {
		return 0
	}
	return int(math.Floor(t.DurationSeconds*t.FrameRate + frameCountEpsilon))
}

// FrameDuration returns the duration of a single frame in seconds.
func (t TrackInfo) FrameDuration() float64 {
	if t.FrameRate <= 0 {
		return 0
	}
	return 1 / t.FrameRate
}

// TrackRef identifies one track inside a source as reported by the runtime.
type TrackRef struct {
	Index           int     `json:"index"`
	Codec           string  `json:"codec"`
	CodedWidth      int     `json:"codedWidth"`
	CodedHeight     int     `json:"codedHeight"`
	SampleAspectNum int     `json:"sampleAspectNum,omitempty"`
	SampleAspectDen int     `json:"sampleAspectDen,omitempty"`
	DurationSeconds float64 `json:"durationSeconds"`

	// NominalFrameRate is what the container declares. Informational only:
	// the frame rate used for timing is always measured from packets.
	NominalFrameRate float64 `json:"nominalFrameRate,omitempty"`
}

// DisplaySize returns the coded size corrected by the sample aspect ratio.
// Odd sizes are kept; encoders that need even dimensions pad on their side.
func (r TrackRef) DisplaySize() (int, int) {
	w, h := r.CodedWidth, r.CodedHeight
	if r.SampleAspectNum > 0 && r.SampleAspectDen > 0 && r.SampleAspectNum != r.SampleAspectDen {
		w = int(math.Round(float64(w) * float64(r.SampleAspectNum) / float64(r.SampleAspectDen)))
	}
	return max(w, 1), max(h, 1)
}

// CodecRef is an encoder negotiated for a specific output size.
type CodecRef struct {
	Name      string `json:"name"`
	Container string `json:"container"`
	MIMEType  string `json:"mimeType"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// OutputConfig is everything an Encoder needs to open an output.
type OutputConfig struct {
	Width     int
	Height    int
	FrameRate float64
}

// Bounds returns the output rectangle.
func (c OutputConfig) Bounds() image.Rectangle {
	return image.Rect(0, 0, c.Width, c.Height)
}
