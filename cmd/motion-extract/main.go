package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"motion-extractor/internal/ffmpeg"
	"motion-extractor/internal/logging"
	"motion-extractor/internal/media"
	"motion-extractor/internal/pipeline"

	"golang.org/x/term"
)

const (
	exitOK      = 0
	exitFailed  = 1
	exitUsage   = 2
	outFileMode = 0o644
)

// options are the parsed command line.
type options struct {
	in         string
	out        string
	offset     int
	brightness float64
	workers    int
	vips       bool
	verbose    bool
}

// console is where the command writes. interactive enables the progress
// line.
type console struct {
	stdout      io.Writer
	stderr      io.Writer
	interactive bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(exitOK)
		}
		os.Exit(exitUsage)
	}

	if opts.verbose {
		logging.SetLevel(logging.LevelDebug)
	}

	rt := ffmpeg.New(ffmpeg.Config{
		FFmpegPath:  os.Getenv("FFMPEG_PATH"),
		FFprobePath: os.Getenv("FFPROBE_PATH"),
		Preset:      os.Getenv("ENCODER_PRESET"),
		CRF:         envInt("ENCODER_CRF"),
	})
	defer rt.Cleanup()

	if err := rt.Available(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitFailed)
	}

	var scaler media.Scaler
	if opts.vips {
		scaler = media.SelectScaler(true)
		defer media.ShutdownVips()
	}

	con := console{
		stdout:      os.Stdout,
		stderr:      os.Stderr,
		interactive: term.IsTerminal(int(os.Stdout.Fd())),
	}

	code := run(ctx, rt, scaler, opts, con)
	stop()
	os.Exit(code)
}

func parseFlags(args []string, output io.Writer) (options, error) {
	var opts options

	fs := flag.NewFlagSet("motion-extract", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.in, "in", "", "source video")
	fs.StringVar(&opts.out, "out", "", "destination file")
	fs.IntVar(&opts.offset, "offset", pipeline.DefaultFrameOffset, "frame offset")
	fs.Float64Var(&opts.brightness, "brightness", 0, "brightness adjustment in percent")
	fs.IntVar(&opts.workers, "workers", 0, "concurrent decode cursors (0 = auto)")
	fs.BoolVar(&opts.vips, "vips", false, "scale frames with libvips")
	fs.BoolVar(&opts.verbose, "v", false, "debug logging")
	fs.Usage = func() {
		fmt.Fprintln(output, "Usage: motion-extract -in input.mp4 -out output.mp4 [-offset 10] [-brightness 0] [-v]")
		fmt.Fprintln(output, "")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(output, "Unexpected arguments: %v\n", fs.Args())
		fs.Usage()
		return opts, errors.New("unexpected arguments")
	}
	if opts.in == "" || opts.out == "" {
		fmt.Fprintln(output, "Both -in and -out are required")
		fs.Usage()
		return opts, errors.New("missing -in or -out")
	}
	if filepath.Clean(opts.in) == filepath.Clean(opts.out) {
		fmt.Fprintln(output, "-out must differ from -in")
		return opts, errors.New("output would overwrite input")
	}
	return opts, nil
}

// run processes one file and returns the exit status.
func run(ctx context.Context, rt media.Runtime, scaler media.Scaler, opts options, con console) int {
	cfg := pipeline.Config{FrameOffset: opts.offset, Brightness: opts.brightness}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(con.stderr, "Error: %v\n", err)
		return exitUsage
	}

	src, err := media.OpenFile(opts.in)
	if err != nil {
		fmt.Fprintf(con.stderr, "Error: %v\n", err)
		return exitFailed
	}
	defer func() { _ = src.Release() }()

	orch := pipeline.New(rt, pipeline.Options{Scaler: scaler, DecodeWorkers: opts.workers})

	start := time.Now()
	progress := newProgressLine(con)
	out, err := orch.Run(ctx, src, cfg, progress.update)
	progress.finish()

	if err != nil {
		fmt.Fprintf(con.stderr, "Error: %v\n", describe(err))
		return exitFailed
	}

	if err := writeOutput(opts.out, out.Bytes); err != nil {
		fmt.Fprintf(con.stderr, "Error: %v\n", err)
		return exitFailed
	}

	state := orch.State()
	fmt.Fprintf(con.stdout, "Wrote %s: %d frames at %s fps (%s, %d bytes) in %v\n",
		opts.out, out.Frames, strconv.FormatFloat(out.FrameRate, 'f', -1, 64),
		out.MIMEType, len(out.Bytes), time.Since(start).Round(time.Millisecond))
	if state.Skipped > 0 {
		logging.Debug("%d frames were skipped", state.Skipped)
	}
	return exitOK
}

// describe adds the operator-facing hint for failures that have one.
func describe(err error) error {
	switch {
	case errors.Is(err, media.ErrCanceled), errors.Is(err, context.Canceled):
		return errors.New("canceled")
	case errors.Is(err, media.ErrNoVideoTrack):
		return fmt.Errorf("%w (is the input an audio-only file?)", err)
	default:
		return err
	}
}

// writeOutput writes data next to path and renames it into place so an
// interrupted write never leaves a truncated video.
func writeOutput(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".motion-extract-*")
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write output: %w", err)
	}
	if err := tmp.Chmod(outFileMode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}

// progressLine redraws a single "Encoding: NN%" line on a terminal.
type progressLine struct {
	con  console
	last int
}

func newProgressLine(con console) *progressLine {
	return &progressLine{con: con, last: -1}
}

func (p *progressLine) update(progress float64) {
	if !p.con.interactive {
		return
	}
	pct := int(progress * 100)
	if pct == p.last {
		return
	}
	p.last = pct
	fmt.Fprintf(p.con.stdout, "\rEncoding: %3d%%", pct)
}

func (p *progressLine) finish() {
	if p.con.interactive && p.last >= 0 {
		fmt.Fprint(p.con.stdout, "\r\033[K")
	}
}

func envInt(key string) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return 0
	}
	return n
}
