package media

import (
	"fmt"
	"image"

	"motion-extractor/internal/logging"

	"github.com/disintegration/imaging"
)

// Scaler resizes decoded frames to a fixed output size. Fill never
// letterboxes: the result is exactly width x height even when that distorts
// the aspect ratio.
type Scaler interface {
	Name() string
	Fill(img image.Image, width, height int) (*image.NRGBA, error)
}

// ImagingScaler resamples with the imaging library.
type ImagingScaler struct {
	Filter imaging.ResampleFilter
}

// NewImagingScaler returns a Lanczos scaler.
func NewImagingScaler() ImagingScaler {
	return ImagingScaler{Filter: imaging.Lanczos}
}

// Name implements Scaler.
func (s ImagingScaler) Name() string { return "imaging" }

// Fill implements Scaler. Frames already at the target size are copied
// without resampling.
func (s ImagingScaler) Fill(img image.Image, width, height int) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid fill size %dx%d", width, height)
	}
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return imaging.Clone(img), nil
	}
	return imaging.Resize(img, width, height, s.Filter), nil
}

// SelectScaler resolves the scaling strategy for the life of the process.
// libvips is only used when requested and when it starts cleanly; the
// imaging scaler is the default.
func SelectScaler(preferVips bool) Scaler {
	if preferVips {
		if err := InitVips(); err != nil {
			logging.Warn("libvips unavailable, falling back to imaging scaler: %v", err)
		} else {
			logging.Info("Frame scaler: libvips")
			return VipsScaler{}
		}
	}
	logging.Info("Frame scaler: imaging (lanczos)")
	return NewImagingScaler()
}
