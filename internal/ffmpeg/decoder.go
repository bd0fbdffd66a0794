package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os/exec"
	"strconv"

	"motion-extractor/internal/logging"
	"motion-extractor/internal/media"
	"motion-extractor/internal/metrics"
)

// NewDecoder implements media.Runtime. The ffmpeg process is started lazily
// on the first DecodeFrameAt.
func (r *Runtime) NewDecoder(src *media.Source, track media.TrackRef, info media.TrackInfo) (media.Decoder, error) {
	if info.FrameRate <= 0 {
		return nil, fmt.Errorf("decoder needs a measured frame rate: %w", media.ErrInvalidState)
	}
	if track.CodedWidth <= 0 || track.CodedHeight <= 0 {
		return nil, fmt.Errorf("track %d has no coded size", track.Index)
	}
	if err := src.Acquire(); err != nil {
		return nil, err
	}

	return &decoder{
		rt:        r,
		src:       src,
		track:     track,
		rate:      info.FrameRate,
		width:     track.CodedWidth,
		height:    track.CodedHeight,
		frameSize: track.CodedWidth * track.CodedHeight * 4,
		eofAt:     -1,
		lastIndex: -1,
		log:       logging.For("decoder").With("track", track.Index),
	}, nil
}

// decoder reads a constant-rate stream of raw RGBA frames at the coded size
// from one ffmpeg process. Output frame k of a process started at frame s
// is source frame s+k.
type decoder struct {
	rt        *Runtime
	src       *media.Source
	track     media.TrackRef
	rate      float64
	width     int
	height    int
	frameSize int
	log       *logging.Logger

	cmd     *exec.Cmd
	key     string
	stdout  io.ReadCloser
	reader  *bufio.Reader
	stderr  stderrBuffer
	next    int64
	started bool
	scratch []byte

	eofAt     int64
	last      *image.NRGBA
	lastIndex int64
	closed    bool
}

func (d *decoder) args(start int64) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-noautorotate",
		"-ss", strconv.FormatFloat(float64(start)/d.rate, 'f', 6, 64),
		"-i", d.src.Path(),
		"-map", "0:" + strconv.Itoa(d.track.Index),
		"-an", "-sn", "-dn",
		"-vf", fmt.Sprintf("fps=%s,scale=%d:%d", strconv.FormatFloat(d.rate, 'f', -1, 64), d.width, d.height),
		"-threads", strconv.Itoa(d.rt.cfg.Threads),
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	}
}

// DecodeFrameAt implements media.Decoder.
func (d *decoder) DecodeFrameAt(ctx context.Context, ts float64) (image.Image, error) {
	if d.closed {
		return nil, fmt.Errorf("decode on closed decoder: %w", media.ErrInvalidState)
	}

	target := int64(math.Floor(ts*d.rate + frameEpsilon))
	if target < 0 || (d.eofAt >= 0 && target >= d.eofAt) {
		return nil, fmt.Errorf("frame %d at %.3fs: %w", target, ts, media.ErrFrameUnavailable)
	}
	if target == d.lastIndex {
		return d.last, nil
	}

	if d.cmd == nil || target < d.next || target-d.next > int64(d.rt.cfg.SeekAheadFrames) {
		if err := d.restart(target); err != nil {
			return nil, err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		index := d.next
		buf := d.scratch
		if index == target {
			buf = make([]byte, d.frameSize)
		}

		if _, err := io.ReadFull(d.reader, buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				d.eofAt = index
				d.stop()
				d.log.Debug("%s ends before frame %d", d.src.Name(), index)
				return nil, fmt.Errorf("frame %d at %.3fs: %w", target, ts, media.ErrFrameUnavailable)
			}
			return nil, fmt.Errorf("read frame %d: %w", index, err)
		}
		d.next++

		if index == target {
			d.last = &image.NRGBA{
				Pix:    buf,
				Stride: d.width * 4,
				Rect:   image.Rect(0, 0, d.width, d.height),
			}
			d.lastIndex = index
			return d.last, nil
		}
	}
}

func (d *decoder) restart(start int64) error {
	d.stop()
	if d.started {
		metrics.FFmpegRestartsTotal.Inc()
		d.log.Debug("Seeking to frame %d", start)
	}
	d.started = true

	cmd := exec.Command(d.rt.cfg.FFmpegPath, d.args(start)...)
	d.stderr.Reset()
	cmd.Stderr = &d.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	key, err := d.rt.start("decode", cmd)
	if err != nil {
		return err
	}

	d.cmd = cmd
	d.key = key
	d.stdout = stdout
	d.reader = bufio.NewReaderSize(stdout, d.frameSize)
	d.next = start
	if d.scratch == nil {
		d.scratch = make([]byte, d.frameSize)
	}
	return nil
}

// stop kills the running process, if any, and reaps it.
func (d *decoder) stop() {
	if d.cmd == nil {
		return
	}
	if d.cmd.ProcessState == nil && d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}
	if err := d.cmd.Wait(); err != nil {
		if msg := d.stderr.tail(); msg != "" {
			d.log.Warn("ffmpeg decoder for %s exited: %v - %s", d.src.Name(), err, msg)
		}
	}
	d.rt.finish(d.key)
	d.cmd = nil
	d.stdout = nil
	d.reader = nil
}

// Close implements media.Decoder.
func (d *decoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.stop()
	d.last = nil
	d.scratch = nil
	return d.src.Release()
}
