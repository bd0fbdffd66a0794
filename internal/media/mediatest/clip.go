package mediatest

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"

	"motion-extractor/internal/media"

	"golang.org/x/image/draw"
)

const clipMagic = "MXCLIP1\n"

// Clip describes a synthetic source.
type Clip struct {
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	FrameRate float64 `json:"frameRate"`
	Duration  float64 `json:"duration"`

	// NominalFrameRate is what the fake container declares. Zero means
	// "same as FrameRate".
	NominalFrameRate float64 `json:"nominalFrameRate,omitempty"`

	// AudioDuration, when longer than Duration, makes the container
	// duration exceed the video track's.
	AudioDuration float64 `json:"audioDuration,omitempty"`

	SampleAspectNum int `json:"sarNum,omitempty"`
	SampleAspectDen int `json:"sarDen,omitempty"`

	// NoVideo produces a container without a video track.
	NoVideo bool `json:"noVideo,omitempty"`

	// MissingFrames lists frame indexes the decoder cannot produce.
	MissingFrames []int `json:"missingFrames,omitempty"`

	// AvailableFrames truncates the stream: frames at or beyond this index
	// are unavailable. Zero means every frame is available.
	AvailableFrames int `json:"availableFrames,omitempty"`
}

// Frames returns the number of frames the clip contains.
func (c Clip) Frames() int {
	return int(math.Floor(c.Duration*c.FrameRate + 1e-9))
}

// Encode serializes the clip into source bytes.
func (c Clip) Encode() []byte {
	body, err := json.Marshal(c)
	if err != nil {
		panic(fmt.Sprintf("mediatest: marshal clip: %v", err))
	}
	return append([]byte(clipMagic), body...)
}

// OpenSource stages the clip in dir as a media.Source.
func OpenSource(dir string, c Clip) (*media.Source, error) {
	return media.OpenBytes(dir, "synthetic.clip", c.Encode())
}

func readClip(src *media.Source) (Clip, error) {
	f, err := src.Open()
	if err != nil {
		return Clip{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return Clip{}, fmt.Errorf("read clip: %w", err)
	}
	if len(data) < len(clipMagic) || string(data[:len(clipMagic)]) != clipMagic {
		return Clip{}, fmt.Errorf("source %s is not a synthetic clip", src.Name())
	}

	var c Clip
	if err := json.Unmarshal(data[len(clipMagic):], &c); err != nil {
		return Clip{}, fmt.Errorf("decode clip: %w", err)
	}
	return c, nil
}

func (c Clip) available(index int) bool {
	if index < 0 || index >= c.Frames() {
		return false
	}
	if c.AvailableFrames > 0 && index >= c.AvailableFrames {
		return false
	}
	for _, m := range c.MissingFrames {
		if m == index {
			return false
		}
	}
	return true
}

var sprite = image.NewUniform(color.NRGBA{R: 255, G: 255, B: 255, A: 255})

// RenderFrame draws frame index of a w x h clip.
func RenderFrame(index, w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		v := uint8(64 + y*64/h)
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			row[x*4+0] = v
			row[x*4+1] = v
			row[x*4+2] = v
			row[x*4+3] = 255
		}
	}

	size := h / 6
	if size < 2 {
		size = 2
	}
	span := w - size - 2
	if span < 1 {
		span = 1
	}
	x0 := 2 + (index*4)%span
	y0 := h/2 - size/2
	draw.Draw(img, image.Rect(x0, y0, x0+size, y0+size), sprite, image.Point{}, draw.Over)

	StampIndex(img, index)
	return img
}

// StampIndex writes index into pixel (0,0).
func StampIndex(img *image.NRGBA, index int) {
	img.SetNRGBA(0, 0, color.NRGBA{R: uint8(index & 0xFF), G: uint8(index >> 8), B: 0, A: 255})
}

// ReadIndex recovers the frame index stamped by StampIndex.
func ReadIndex(img image.Image) int {
	b := img.Bounds()
	r, g, _, _ := img.At(b.Min.X, b.Min.Y).RGBA()
	return int(r>>8) | int(g>>8)<<8
}
