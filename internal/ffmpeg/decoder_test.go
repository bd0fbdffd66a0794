package ffmpeg

import (
	"context"
	"errors"
	"strings"
	"testing"

	"motion-extractor/internal/media"
)

func openTestSource(t *testing.T) *media.Source {
	t.Helper()
	src, err := media.OpenBytes(t.TempDir(), "clip.mp4", []byte("not really a video"))
	if err != nil {
		t.Fatalf("OpenBytes failed: %v", err)
	}
	t.Cleanup(func() {
		if src.Refs() > 0 {
			_ = src.Release()
		}
	})
	return src
}

func TestNewDecoderValidation(t *testing.T) {
	src := openTestSource(t)
	r := New(Config{})
	track := media.TrackRef{Index: 0, CodedWidth: 64, CodedHeight: 48}

	if _, err := r.NewDecoder(src, track, media.TrackInfo{}); !errors.Is(err, media.ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState without frame rate, got %v", err)
	}
	if _, err := r.NewDecoder(src, media.TrackRef{}, media.TrackInfo{FrameRate: 30}); err == nil {
		t.Error("Expected error for track without coded size")
	}
	if src.Refs() != 1 {
		t.Errorf("Expected failed constructors to leave refs alone, got %d", src.Refs())
	}
}

func TestDecoderArgs(t *testing.T) {
	src := openTestSource(t)
	r := New(Config{Threads: 2})
	track := media.TrackRef{Index: 3, CodedWidth: 720, CodedHeight: 480}

	dec, err := r.NewDecoder(src, track, media.TrackInfo{FrameRate: 25})
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	defer dec.Close()

	args := strings.Join(dec.(*decoder).args(50), " ")
	for _, want := range []string{
		"-noautorotate -ss 2.000000 -i " + src.Path(),
		"-map 0:3",
		"-vf fps=25,scale=720:480",
		"-threads 2",
		"-f rawvideo -pix_fmt rgba pipe:1",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("Expected args to contain %q, got %s", want, args)
		}
	}
}

func TestDecoderLifecycle(t *testing.T) {
	src := openTestSource(t)
	r := New(Config{})
	track := media.TrackRef{Index: 0, CodedWidth: 16, CodedHeight: 16}

	dec, err := r.NewDecoder(src, track, media.TrackInfo{FrameRate: 30})
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	if src.Refs() != 2 {
		t.Errorf("Expected decoder to hold a reference, got %d refs", src.Refs())
	}

	if _, err := dec.DecodeFrameAt(context.Background(), -1); !errors.Is(err, media.ErrFrameUnavailable) {
		t.Errorf("Expected ErrFrameUnavailable before the start, got %v", err)
	}

	if err := dec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := dec.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
	if src.Refs() != 1 {
		t.Errorf("Expected reference released, got %d refs", src.Refs())
	}
	if _, err := dec.DecodeFrameAt(context.Background(), 0); !errors.Is(err, media.ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState after Close, got %v", err)
	}
}
