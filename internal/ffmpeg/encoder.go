package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"motion-extractor/internal/logging"
	"motion-extractor/internal/media"

	"github.com/disintegration/imaging"
)

// maxDimension bounds the output size every listed encoder accepts.
const maxDimension = 8192

type encoderProfile struct {
	name      string
	container string
	mimeType  string
	args      func(cfg Config) []string
}

// encoderPreference is tried in order. H.264 in fragmented MP4 plays
// everywhere; WebM is the fallback for builds without an H.264 encoder.
var encoderPreference = []encoderProfile{
	{"libx264", "mp4", "video/mp4", func(cfg Config) []string {
		return []string{"-preset", cfg.Preset, "-crf", strconv.Itoa(cfg.CRF)}
	}},
	{"libopenh264", "mp4", "video/mp4", func(Config) []string {
		return []string{"-b:v", "8M"}
	}},
	{"libvpx-vp9", "webm", "video/webm", func(cfg Config) []string {
		return []string{"-crf", strconv.Itoa(cfg.CRF), "-b:v", "0", "-row-mt", "1"}
	}},
	{"libvpx", "webm", "video/webm", func(Config) []string {
		return []string{"-crf", "10", "-b:v", "8M"}
	}},
}

func profileFor(name string) (encoderProfile, bool) {
	for _, p := range encoderPreference {
		if p.name == name {
			return p, true
		}
	}
	return encoderProfile{}, false
}

// parseEncoders extracts video encoder names from `ffmpeg -encoders`.
func parseEncoders(output string) map[string]bool {
	encoders := make(map[string]bool)
	inList := false
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.HasPrefix(fields[0], "V") {
			continue
		}
		encoders[fields[1]] = true
	}
	return encoders
}

// loadEncoders queries ffmpeg once for the encoders it was built with.
func (r *Runtime) loadEncoders() map[string]bool {
	r.encodersOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		out, err := exec.CommandContext(ctx, r.cfg.FFmpegPath, "-hide_banner", "-encoders").Output()
		if err != nil {
			r.log.Warn("Failed to list ffmpeg encoders: %v", err)
			r.encoders = map[string]bool{}
			return
		}
		r.encoders = parseEncoders(string(out))

		var usable []string
		for _, p := range encoderPreference {
			if r.encoders[p.name] {
				usable = append(usable, p.name)
			}
		}
		if len(usable) == 0 {
			r.log.Warn("ffmpeg has none of the supported video encoders")
		} else {
			r.log.Info("Usable video encoders: %s", strings.Join(usable, ", "))
		}
	})
	return r.encoders
}

// NegotiateEncoder implements media.Runtime.
func (r *Runtime) NegotiateEncoder(width, height int) (media.CodecRef, bool) {
	if width <= 0 || height <= 0 || width > maxDimension || height > maxDimension {
		return media.CodecRef{}, false
	}
	encoders := r.loadEncoders()
	for _, p := range encoderPreference {
		if encoders[p.name] {
			return media.CodecRef{
				Name:      p.name,
				Container: p.container,
				MIMEType:  p.mimeType,
				Width:     width,
				Height:    height,
			}, true
		}
	}
	return media.CodecRef{}, false
}

func (r *Runtime) encodeArgs(codec media.CodecRef, cfg media.OutputConfig) ([]string, error) {
	profile, ok := profileFor(codec.Name)
	if !ok {
		return nil, fmt.Errorf("encoder %s: %w", codec.Name, media.ErrUnsupportedCodec)
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-framerate", strconv.FormatFloat(cfg.FrameRate, 'f', -1, 64),
		"-i", "pipe:0",
		"-an",
		// 4:2:0 chroma needs even dimensions.
		"-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2",
		"-c:v", codec.Name,
	}
	args = append(args, profile.args(r.cfg)...)
	args = append(args,
		"-pix_fmt", "yuv420p",
		"-threads", strconv.Itoa(r.cfg.Threads),
	)
	if codec.Container == "mp4" {
		args = append(args, "-movflags", "frag_keyframe+empty_moov")
	}
	args = append(args, "-f", codec.Container, "pipe:1")
	return args, nil
}

// OpenOutput implements media.Runtime. The process lives until Finalize or
// Abort, or until ctx is canceled.
func (r *Runtime) OpenOutput(ctx context.Context, codec media.CodecRef, cfg media.OutputConfig) (media.Encoder, error) {
	args, err := r.encodeArgs(codec, cfg)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, r.cfg.FFmpegPath, args...)
	e := &encoder{
		rt:       r,
		codec:    codec,
		copyDone: make(chan error, 1),
		log:      logging.For("encoder").With("codec", codec.Name),
	}
	cmd.Stderr = &e.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	key, err := r.start("encode", cmd)
	if err != nil {
		return nil, err
	}
	e.cmd = cmd
	e.key = key
	e.stdin = stdin
	e.input = bufio.NewWriterSize(stdin, cfg.Width*cfg.Height*4)
	e.frames = newFrameWriter(e.input, cfg.Width, cfg.Height, cfg.FrameRate)

	go func() {
		_, err := io.Copy(&e.out, stdout)
		e.copyDone <- err
	}()

	return e, nil
}

type encoder struct {
	rt    *Runtime
	codec media.CodecRef
	log   *logging.Logger

	cmd      *exec.Cmd
	key      string
	stdin    io.WriteCloser
	input    *bufio.Writer
	frames   *frameWriter
	out      bytes.Buffer
	stderr   stderrBuffer
	copyDone chan error

	mu   sync.Mutex
	done bool
}

// EncodeFrame implements media.Encoder.
func (e *encoder) EncodeFrame(img image.Image, pts, duration float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return fmt.Errorf("encode after finalize: %w", media.ErrInvalidState)
	}
	if err := e.frames.write(img, pts); err != nil {
		if msg := e.stderr.tail(); msg != "" {
			return fmt.Errorf("%w (%s)", err, msg)
		}
		return err
	}
	return nil
}

// Finalize implements media.Encoder.
func (e *encoder) Finalize(ctx context.Context) ([]byte, string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return nil, "", fmt.Errorf("finalize twice: %w", media.ErrInvalidState)
	}
	e.done = true
	defer e.rt.finish(e.key)

	flushErr := e.input.Flush()
	if err := e.stdin.Close(); err != nil && flushErr == nil {
		flushErr = err
	}

	var copyErr error
	select {
	case copyErr = <-e.copyDone:
	case <-ctx.Done():
		_ = e.cmd.Process.Kill()
		<-e.copyDone
		_ = e.cmd.Wait()
		return nil, "", ctx.Err()
	}

	if err := e.cmd.Wait(); err != nil {
		e.log.Error("FFmpeg stderr: %s", e.stderr.String())
		return nil, "", fmt.Errorf("encoding error: %w - %s", err, e.stderr.tail())
	}
	if flushErr != nil {
		return nil, "", fmt.Errorf("failed to flush frames: %w", flushErr)
	}
	if copyErr != nil {
		return nil, "", fmt.Errorf("failed to read encoder output: %w", copyErr)
	}
	if e.out.Len() == 0 {
		return nil, "", fmt.Errorf("encoder produced no output")
	}

	e.log.Debug("Encoded %d frames into %d bytes", e.frames.written, e.out.Len())
	return e.out.Bytes(), e.codec.MIMEType, nil
}

// Abort implements media.Encoder.
func (e *encoder) Abort() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return nil
	}
	e.done = true

	_ = e.cmd.Process.Kill()
	_ = e.stdin.Close()
	<-e.copyDone
	_ = e.cmd.Wait()
	e.rt.finish(e.key)
	e.out.Reset()
	return nil
}

// frameWriter turns timed frames into the constant-rate raw stream ffmpeg
// reads. Output slots with no frame of their own repeat the previous frame,
// or the next one when the gap is at the very start.
type frameWriter struct {
	w       io.Writer
	width   int
	height  int
	rate    float64
	next    int64
	written int64

	cur  []byte
	prev []byte
}

func newFrameWriter(w io.Writer, width, height int, rate float64) *frameWriter {
	return &frameWriter{w: w, width: width, height: height, rate: rate}
}

func (f *frameWriter) write(img image.Image, pts float64) error {
	slot := int64(math.Round(pts * f.rate))
	if slot < f.next {
		return fmt.Errorf("frame at %.6fs lands in slot %d, already at %d: %w", pts, slot, f.next, media.ErrInvalidState)
	}

	if err := f.fill(img); err != nil {
		return err
	}

	gap := f.cur
	if f.prev != nil {
		gap = f.prev
	}
	for f.next < slot {
		if _, err := f.w.Write(gap); err != nil {
			return fmt.Errorf("write to encoder: %w", err)
		}
		f.next++
		f.written++
	}

	if _, err := f.w.Write(f.cur); err != nil {
		return fmt.Errorf("write to encoder: %w", err)
	}
	f.next++
	f.written++
	f.cur, f.prev = f.prev, f.cur
	return nil
}

// fill copies img into f.cur as tightly packed RGBA rows.
func (f *frameWriter) fill(img image.Image) error {
	b := img.Bounds()
	if b.Dx() != f.width || b.Dy() != f.height {
		return fmt.Errorf("frame is %dx%d, output is %dx%d", b.Dx(), b.Dy(), f.width, f.height)
	}

	src, ok := img.(*image.NRGBA)
	if !ok {
		src = imaging.Clone(img)
	}

	rowBytes := f.width * 4
	if len(f.cur) != rowBytes*f.height {
		f.cur = make([]byte, rowBytes*f.height)
	}
	for y := 0; y < f.height; y++ {
		off := src.PixOffset(src.Rect.Min.X, src.Rect.Min.Y+y)
		copy(f.cur[y*rowBytes:(y+1)*rowBytes], src.Pix[off:off+rowBytes])
	}
	return nil
}
