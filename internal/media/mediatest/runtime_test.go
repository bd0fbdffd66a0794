package mediatest

import (
	"context"
	"errors"
	"testing"

	"motion-extractor/internal/media"
)

func TestClipRoundTripThroughSource(t *testing.T) {
	clip := Clip{Width: 64, Height: 48, FrameRate: 30, Duration: 2, NominalFrameRate: 29, AudioDuration: 2.5}
	src, err := OpenSource(t.TempDir(), clip)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Release()

	rt := NewRuntime()
	ctx := context.Background()

	tracks, err := rt.ListVideoTracks(ctx, src)
	if err != nil {
		t.Fatal(err)
	}
	if len(tracks) != 1 || tracks[0].NominalFrameRate != 29 || tracks[0].CodedWidth != 64 {
		t.Errorf("Unexpected tracks: %+v", tracks)
	}

	rate, err := rt.MeasurePacketRate(ctx, src, tracks[0])
	if err != nil || rate != 30 {
		t.Errorf("MeasurePacketRate = %v, %v; want 30", rate, err)
	}

	dur, err := rt.ContainerDuration(ctx, src)
	if err != nil || dur != 2.5 {
		t.Errorf("ContainerDuration = %v, %v; want 2.5", dur, err)
	}
}

func TestDecoderStampsFrameIndex(t *testing.T) {
	clip := Clip{Width: 32, Height: 24, FrameRate: 30, Duration: 20, MissingFrames: []int{5}}
	src, err := OpenSource(t.TempDir(), clip)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Release()

	rt := NewRuntime()
	dec, err := rt.NewDecoder(src, media.TrackRef{}, media.TrackInfo{})
	if err != nil {
		t.Fatal(err)
	}
	if src.Refs() != 2 {
		t.Errorf("Expected decoder to hold a source reference, refs=%d", src.Refs())
	}

	for _, idx := range []int{0, 1, 299, 300} {
		img, err := dec.DecodeFrameAt(context.Background(), float64(idx)/30)
		if err != nil {
			t.Fatalf("decode %d: %v", idx, err)
		}
		if got := ReadIndex(img); got != idx {
			t.Errorf("Expected frame %d, got %d", idx, got)
		}
	}

	if _, err := dec.DecodeFrameAt(context.Background(), 5.0/30); !errors.Is(err, media.ErrFrameUnavailable) {
		t.Errorf("Expected ErrFrameUnavailable for missing frame, got %v", err)
	}
	if _, err := dec.DecodeFrameAt(context.Background(), 25); !errors.Is(err, media.ErrFrameUnavailable) {
		t.Errorf("Expected ErrFrameUnavailable past the end, got %v", err)
	}

	if err := dec.Close(); err != nil {
		t.Fatal(err)
	}
	if rt.OpenDecoders() != 0 {
		t.Errorf("Expected no open decoders, got %d", rt.OpenDecoders())
	}
	if src.Refs() != 1 {
		t.Errorf("Expected decoder to release its reference, refs=%d", src.Refs())
	}
}

func TestOutputContainer(t *testing.T) {
	rt := NewRuntime()
	codec, ok := rt.NegotiateEncoder(32, 24)
	if !ok {
		t.Fatal("Expected encoder")
	}
	enc, err := rt.OpenOutput(context.Background(), codec, media.OutputConfig{Width: 32, Height: 24, FrameRate: 30})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if err := enc.EncodeFrame(RenderFrame(i, 32, 24), float64(i)/30, 1.0/30); err != nil {
			t.Fatal(err)
		}
	}
	if err := enc.EncodeFrame(RenderFrame(0, 16, 16), 1, 1.0/30); err == nil {
		t.Error("Expected size mismatch error")
	}

	data, mime, err := enc.Finalize(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if mime != MIMEType {
		t.Errorf("Expected %s, got %s", MIMEType, mime)
	}

	h, err := ParseOutput(data)
	if err != nil {
		t.Fatal(err)
	}
	if h.FrameRate != 30 || h.Frames != 3 || h.Width != 32 || h.Height != 24 {
		t.Errorf("Unexpected header %+v", h)
	}

	if _, _, err := enc.Finalize(context.Background()); !errors.Is(err, media.ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState on second finalize, got %v", err)
	}
}

func TestNoEncoder(t *testing.T) {
	rt := &Runtime{NoEncoder: true}
	if _, ok := rt.NegotiateEncoder(320, 240); ok {
		t.Error("Expected negotiation to fail")
	}
}
