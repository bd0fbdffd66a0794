package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"motion-extractor/internal/media"
)

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	Index             int    `json:"index"`
	CodecName         string `json:"codec_name"`
	CodecType         string `json:"codec_type"`
	Width             int    `json:"width"`
	Height            int    `json:"height"`
	SampleAspectRatio string `json:"sample_aspect_ratio"`
	AvgFrameRate      string `json:"avg_frame_rate"`
	RFrameRate        string `json:"r_frame_rate"`
	Duration          string `json:"duration"`
	Disposition       struct {
		AttachedPic int `json:"attached_pic"`
	} `json:"disposition"`
}

type probeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
}

type packetOutput struct {
	Packets []struct {
		PtsTime string `json:"pts_time"`
	} `json:"packets"`
}

// probe runs ffprobe with JSON output and decodes it into v.
func (r *Runtime) probe(ctx context.Context, src *media.Source, v any, args ...string) error {
	args = append([]string{"-v", "error", "-print_format", "json"}, args...)
	args = append(args, src.Path())

	cmd := exec.CommandContext(ctx, r.cfg.FFprobePath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffprobe error: %w - %s", err, strings.TrimSpace(stderr.String()))
	}
	if err := json.Unmarshal(stdout.Bytes(), v); err != nil {
		return fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	return nil
}

// ListVideoTracks implements media.Prober. Cover art streams are not video
// tracks and are left out.
func (r *Runtime) ListVideoTracks(ctx context.Context, src *media.Source) ([]media.TrackRef, error) {
	var out probeOutput
	if err := r.probe(ctx, src, &out, "-show_streams", "-show_format"); err != nil {
		return nil, err
	}
	return videoTracks(&out), nil
}

// MeasurePacketRate implements media.Prober.
func (r *Runtime) MeasurePacketRate(ctx context.Context, src *media.Source, track media.TrackRef) (float64, error) {
	var out packetOutput
	err := r.probe(ctx, src, &out,
		"-select_streams", strconv.Itoa(track.Index),
		"-show_entries", "packet=pts_time",
	)
	if err != nil {
		return 0, err
	}

	times := make([]float64, 0, len(out.Packets))
	for _, p := range out.Packets {
		if t, ok := parseSeconds(p.PtsTime); ok {
			times = append(times, t)
		}
	}

	if rate, ok := packetRate(times); ok {
		return rate, nil
	}
	if track.NominalFrameRate > 0 {
		r.log.Warn("%s: too few timed packets to measure a rate, using nominal %.3f fps", src.Name(), track.NominalFrameRate)
		return track.NominalFrameRate, nil
	}
	return 0, fmt.Errorf("%s: cannot measure frame rate from %d packets", src.Name(), len(times))
}

// ContainerDuration implements media.Prober.
func (r *Runtime) ContainerDuration(ctx context.Context, src *media.Source) (float64, error) {
	var out probeOutput
	if err := r.probe(ctx, src, &out, "-show_format"); err != nil {
		return 0, err
	}
	d, _ := parseSeconds(out.Format.Duration)
	return d, nil
}

func videoTracks(out *probeOutput) []media.TrackRef {
	var tracks []media.TrackRef
	for _, s := range out.Streams {
		if s.CodecType != "video" || s.Disposition.AttachedPic != 0 {
			continue
		}
		if s.Width <= 0 || s.Height <= 0 {
			continue
		}

		nominal := parseRational(s.AvgFrameRate)
		if nominal == 0 {
			nominal = parseRational(s.RFrameRate)
		}
		duration, _ := parseSeconds(s.Duration)
		num, den := parseSAR(s.SampleAspectRatio)

		tracks = append(tracks, media.TrackRef{
			Index:            s.Index,
			Codec:            s.CodecName,
			CodedWidth:       s.Width,
			CodedHeight:      s.Height,
			SampleAspectNum:  num,
			SampleAspectDen:  den,
			DurationSeconds:  duration,
			NominalFrameRate: nominal,
		})
	}
	return tracks
}

// packetRate is the average number of packets per second over the span of
// presentation timestamps.
func packetRate(times []float64) (float64, bool) {
	if len(times) < 2 {
		return 0, false
	}
	sorted := append([]float64(nil), times...)
	sort.Float64s(sorted)
	span := sorted[len(sorted)-1] - sorted[0]
	if span <= 0 {
		return 0, false
	}
	return float64(len(sorted)-1) / span, true
}

// parseRational parses ffprobe rates such as "30000/1001". "0/0" and
// malformed input give 0.
func parseRational(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// parseSAR parses "num:den". Unknown or square pixels return 0, 0.
func parseSAR(s string) (int, int) {
	a, b, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0
	}
	num, err1 := strconv.Atoi(a)
	den, err2 := strconv.Atoi(b)
	if err1 != nil || err2 != nil || num <= 0 || den <= 0 || num == den {
		return 0, 0
	}
	return num, den
}

func parseSeconds(s string) (float64, bool) {
	if s == "" || s == "N/A" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
