package mediatest

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"math"
	"sync"

	"motion-extractor/internal/media"

	"github.com/disintegration/imaging"
)

const (
	// MIMEType is the content type of the synthetic container.
	MIMEType = "video/x-motion-jpeg"

	outputMagic = "MXOUT01\n"
)

// Runtime is a synthetic media.Runtime. The zero value is not usable; call
// NewRuntime.
type Runtime struct {
	// NoEncoder makes NegotiateEncoder fail for every size.
	NoEncoder bool

	// FailOpenOutput makes OpenOutput return this error.
	FailOpenOutput error

	// DecodeHook, if set, runs before every decode. Tests use it to block
	// or cancel mid-run.
	DecodeHook func(ctx context.Context, ts float64)

	mu          sync.Mutex
	openDecoder int
	decoders    int
	decodes     int
	outputs     []*Output
}

// NewRuntime returns a runtime with an encoder for every size.
func NewRuntime() *Runtime {
	return &Runtime{}
}

// ListVideoTracks implements media.Prober.
func (r *Runtime) ListVideoTracks(_ context.Context, src *media.Source) ([]media.TrackRef, error) {
	c, err := readClip(src)
	if err != nil {
		return nil, err
	}
	if c.NoVideo {
		return nil, nil
	}
	nominal := c.NominalFrameRate
	if nominal == 0 {
		nominal = c.FrameRate
	}
	return []media.TrackRef{{
		Index:            0,
		Codec:            "synthetic",
		CodedWidth:       c.Width,
		CodedHeight:      c.Height,
		SampleAspectNum:  c.SampleAspectNum,
		SampleAspectDen:  c.SampleAspectDen,
		DurationSeconds:  c.Duration,
		NominalFrameRate: nominal,
	}}, nil
}

// MeasurePacketRate implements media.Prober.
func (r *Runtime) MeasurePacketRate(_ context.Context, src *media.Source, _ media.TrackRef) (float64, error) {
	c, err := readClip(src)
	if err != nil {
		return 0, err
	}
	return c.FrameRate, nil
}

// ContainerDuration implements media.Prober.
func (r *Runtime) ContainerDuration(_ context.Context, src *media.Source) (float64, error) {
	c, err := readClip(src)
	if err != nil {
		return 0, err
	}
	return math.Max(c.Duration, c.AudioDuration), nil
}

// NewDecoder implements media.Runtime.
func (r *Runtime) NewDecoder(src *media.Source, track media.TrackRef, _ media.TrackInfo) (media.Decoder, error) {
	c, err := readClip(src)
	if err != nil {
		return nil, err
	}
	if err := src.Acquire(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.openDecoder++
	r.decoders++
	r.mu.Unlock()

	return &decoder{rt: r, src: src, clip: c, track: track, cursor: -1}, nil
}

// NegotiateEncoder implements media.Runtime.
func (r *Runtime) NegotiateEncoder(width, height int) (media.CodecRef, bool) {
	if r.NoEncoder || width <= 0 || height <= 0 {
		return media.CodecRef{}, false
	}
	return media.CodecRef{Name: "mjpeg", Container: "mxout", MIMEType: MIMEType, Width: width, Height: height}, true
}

// OpenOutput implements media.Runtime.
func (r *Runtime) OpenOutput(_ context.Context, codec media.CodecRef, cfg media.OutputConfig) (media.Encoder, error) {
	if r.FailOpenOutput != nil {
		return nil, r.FailOpenOutput
	}
	out := &Output{Codec: codec, Config: cfg}
	r.mu.Lock()
	r.outputs = append(r.outputs, out)
	r.mu.Unlock()
	return out, nil
}

// OpenDecoders returns how many decoders have not been closed.
func (r *Runtime) OpenDecoders() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openDecoder
}

// DecodersCreated returns how many decoders were ever created.
func (r *Runtime) DecodersCreated() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.decoders
}

// Decodes returns how many frames were decoded across all decoders.
func (r *Runtime) Decodes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.decodes
}

// Outputs returns every encoder opened so far.
func (r *Runtime) Outputs() []*Output {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Output(nil), r.outputs...)
}

type decoder struct {
	rt     *Runtime
	src    *media.Source
	clip   Clip
	track  media.TrackRef
	cursor int
	closed bool
}

func (d *decoder) DecodeFrameAt(ctx context.Context, ts float64) (image.Image, error) {
	if d.closed {
		return nil, fmt.Errorf("decode on closed decoder: %w", media.ErrInvalidState)
	}
	if d.rt.DecodeHook != nil {
		d.rt.DecodeHook(ctx, ts)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	index := int(math.Floor(ts*d.clip.FrameRate + 1e-9))
	if !d.clip.available(index) {
		return nil, fmt.Errorf("frame %d at %.3fs: %w", index, ts, media.ErrFrameUnavailable)
	}
	d.cursor = index

	d.rt.mu.Lock()
	d.rt.decodes++
	d.rt.mu.Unlock()

	return RenderFrame(index, d.clip.Width, d.clip.Height), nil
}

func (d *decoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.rt.mu.Lock()
	d.rt.openDecoder--
	d.rt.mu.Unlock()
	return d.src.Release()
}

// Frame is one frame accepted by an Output.
type Frame struct {
	PTS      float64
	Duration float64
	Image    *image.NRGBA
}

// Output is the synthetic encoder. It keeps every frame so tests can inspect
// exactly what the sink pushed.
type Output struct {
	Codec  media.CodecRef
	Config media.OutputConfig

	mu        sync.Mutex
	frames    []Frame
	finalized bool
	aborted   bool
}

// EncodeFrame implements media.Encoder.
func (o *Output) EncodeFrame(img image.Image, pts, duration float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.finalized || o.aborted {
		return fmt.Errorf("encode after close: %w", media.ErrInvalidState)
	}
	if b := img.Bounds(); b.Dx() != o.Config.Width || b.Dy() != o.Config.Height {
		return fmt.Errorf("frame is %dx%d, output is %dx%d", b.Dx(), b.Dy(), o.Config.Width, o.Config.Height)
	}
	o.frames = append(o.frames, Frame{PTS: pts, Duration: duration, Image: imaging.Clone(img)})
	return nil
}

// Finalize implements media.Encoder.
func (o *Output) Finalize(_ context.Context) ([]byte, string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.finalized || o.aborted {
		return nil, "", fmt.Errorf("finalize twice: %w", media.ErrInvalidState)
	}
	o.finalized = true

	header, err := json.Marshal(OutputHeader{
		FrameRate: o.Config.FrameRate,
		Width:     o.Config.Width,
		Height:    o.Config.Height,
		Frames:    len(o.frames),
	})
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	buf.WriteString(outputMagic)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(header)))
	buf.Write(header)
	for _, f := range o.frames {
		var frame bytes.Buffer
		if err := imaging.Encode(&frame, f.Image, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
			return nil, "", fmt.Errorf("encode frame at %.3fs: %w", f.PTS, err)
		}
		_ = binary.Write(&buf, binary.BigEndian, uint32(frame.Len()))
		buf.Write(frame.Bytes())
	}
	return buf.Bytes(), MIMEType, nil
}

// Abort implements media.Encoder.
func (o *Output) Abort() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.aborted = true
	o.frames = nil
	return nil
}

// Frames returns the frames accepted so far.
func (o *Output) Frames() []Frame {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Frame(nil), o.frames...)
}

// Finalized reports whether Finalize ran.
func (o *Output) Finalized() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.finalized
}

// Aborted reports whether Abort ran.
func (o *Output) Aborted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.aborted
}

// OutputHeader is the metadata block of a synthetic container.
type OutputHeader struct {
	FrameRate float64 `json:"frameRate"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Frames    int     `json:"frames"`
}

// ParseOutput reads the header of a synthetic container.
func ParseOutput(data []byte) (OutputHeader, error) {
	var h OutputHeader
	if len(data) < len(outputMagic)+4 || string(data[:len(outputMagic)]) != outputMagic {
		return h, fmt.Errorf("not a synthetic output container")
	}
	rest := data[len(outputMagic):]
	n := binary.BigEndian.Uint32(rest[:4])
	if int(n) > len(rest)-4 {
		return h, fmt.Errorf("truncated header")
	}
	if err := json.Unmarshal(rest[4:4+n], &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}
