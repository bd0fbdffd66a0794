package compositor

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// OffsetOpacity is the opacity of the inverted offset layer.
const OffsetOpacity = 0.5

// Options tune the optional post-processing step. The zero value is the
// baseline algorithm.
type Options struct {
	// Brightness is a percentage in [-100, 100] applied after compositing.
	// Zero skips the step entirely.
	Brightness float64
}

// Validate checks the option ranges.
func (o Options) Validate() error {
	if math.IsNaN(o.Brightness) || math.IsInf(o.Brightness, 0) {
		return fmt.Errorf("brightness %v is not a finite number", o.Brightness)
	}
	if o.Brightness < -100 || o.Brightness > 100 {
		return fmt.Errorf("brightness %v outside [-100, 100]", o.Brightness)
	}
	return nil
}

// Compose draws current at full opacity, then draws the per-channel
// inversion of offset over it with source-over blending at exactly 50%
// opacity. Alpha of offset is kept through the inversion. Both images must
// have the same size; a mismatch is a programming error and panics.
func Compose(current, offset image.Image, opts Options) *image.NRGBA {
	cb, ob := current.Bounds(), offset.Bounds()
	if cb.Dx() != ob.Dx() || cb.Dy() != ob.Dy() {
		panic(fmt.Sprintf("compositor: current is %dx%d but offset is %dx%d", cb.Dx(), cb.Dy(), ob.Dx(), ob.Dy()))
	}

	base := imaging.Clone(current)
	inverted := imaging.Invert(offset)
	out := imaging.Overlay(base, inverted, image.Pt(0, 0), OffsetOpacity)

	if opts.Brightness != 0 {
		out = imaging.AdjustBrightness(out, opts.Brightness)
	}
	return out
}
