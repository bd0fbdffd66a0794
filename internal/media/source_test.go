package media

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenBytesRefCounting(t *testing.T) {
	dir := t.TempDir()

	src, err := OpenBytes(dir, "clip.mp4", []byte("not really a video"))
	if err != nil {
		t.Fatalf("OpenBytes failed: %v", err)
	}

	if filepath.Ext(src.Path()) != ".mp4" {
		t.Errorf("Expected staged file to keep extension, got %s", src.Path())
	}
	if src.Name() != "clip.mp4" {
		t.Errorf("Expected name clip.mp4, got %s", src.Name())
	}
	if src.Size() != 18 {
		t.Errorf("Expected size 18, got %d", src.Size())
	}

	if err := src.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if src.Refs() != 2 {
		t.Errorf("Expected 2 refs, got %d", src.Refs())
	}

	if err := src.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(src.Path()); err != nil {
		t.Errorf("Staged file should survive while referenced: %v", err)
	}

	if err := src.Release(); err != nil {
		t.Fatalf("Final release failed: %v", err)
	}
	if _, err := os.Stat(src.Path()); !os.IsNotExist(err) {
		t.Errorf("Expected staged file to be removed, stat err=%v", err)
	}

	if err := src.Release(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState on extra release, got %v", err)
	}
	if err := src.Acquire(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState on acquire after release, got %v", err)
	}
	if _, err := src.Open(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState on open after release, got %v", err)
	}
}

func TestOpenBytesEmpty(t *testing.T) {
	if _, err := OpenBytes(t.TempDir(), "empty.mp4", nil); err == nil {
		t.Error("Expected error for empty source")
	}
}

func TestOpenFileIsNeverRemoved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.mov")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	if err := src.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Caller-owned file must not be removed: %v", err)
	}
}

func TestOpenFileErrors(t *testing.T) {
	if _, err := OpenFile("/nonexistent/input.mp4"); err == nil {
		t.Error("Expected error for missing file")
	}
	if _, err := OpenFile(t.TempDir()); err == nil {
		t.Error("Expected error for directory")
	}
}

func TestSourceIndependentReaders(t *testing.T) {
	src, err := OpenBytes(t.TempDir(), "x.bin", []byte("0123456789"))
	if err != nil {
		t.Fatal(err)
	}
	defer src.Release()

	a, err := src.Open()
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := src.Open()
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	buf := make([]byte, 4)
	if _, err := a.Seek(6, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	if _, err := io.ReadFull(b, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "0123" {
		t.Errorf("Seeking one reader moved the other: got %q", buf)
	}
}
