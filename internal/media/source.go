package media

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"motion-extractor/internal/filesystem"
	"motion-extractor/internal/logging"
)

// Source is an immutable, read-only byte source shared by every decoder of
// a run. Each holder takes its own reference with Acquire and gives it back
// with Release. Sources staged from bytes are removed from disk when the
// last reference goes away.
type Source struct {
	path  string
	name  string
	size  int64
	owned bool

	mu   sync.Mutex
	refs int
}

// OpenFile opens an existing file as a source. The file is never modified or
// removed.
func OpenFile(path string) (*Source, error) {
	info, err := filesystem.Stat(path, filesystem.DefaultRetryConfig())
	if err != nil {
		return nil, fmt.Errorf("source not accessible: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("source %s is a directory", path)
	}
	return &Source{
		path: path,
		name: filepath.Base(path),
		size: info.Size(),
		refs: 1,
	}, nil
}

// OpenBytes stages data into dir and opens it as a source. The staged file
// is deleted once every reference has been released.
func OpenBytes(dir, name string, data []byte) (*Source, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("source %q is empty", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging dir: %w", err)
	}

	f, err := os.CreateTemp(dir, "source-*"+filepath.Ext(name))
	if err != nil {
		return nil, fmt.Errorf("failed to stage source: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("failed to stage source: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("failed to stage source: %w", err)
	}

	logging.Debug("Staged source %s (%d bytes) at %s", name, len(data), f.Name())

	return &Source{
		path:  f.Name(),
		name:  name,
		size:  int64(len(data)),
		owned: true,
		refs:  1,
	}, nil
}

// Path returns the on-disk location readers should open.
func (s *Source) Path() string { return s.path }

// Name returns the caller-facing name of the source.
func (s *Source) Name() string { return s.name }

// Size returns the byte length of the source.
func (s *Source) Size() int64 { return s.size }

// Open returns a fresh random-access reader. Each reader has its own offset.
func (s *Source) Open() (*os.File, error) {
	if s.Refs() == 0 {
		return nil, fmt.Errorf("open released source %s: %w", s.name, ErrInvalidState)
	}
	return filesystem.Open(s.path, filesystem.DefaultRetryConfig())
}

// Acquire takes another reference to the source.
func (s *Source) Acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs == 0 {
		return fmt.Errorf("acquire released source %s: %w", s.name, ErrInvalidState)
	}
	s.refs++
	return nil
}

// Release drops one reference. Releasing more often than acquired returns
// ErrInvalidState.
func (s *Source) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs == 0 {
		return fmt.Errorf("release of released source %s: %w", s.name, ErrInvalidState)
	}
	s.refs--
	if s.refs > 0 || !s.owned {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		logging.Warn("failed to remove staged source %s: %v", s.path, err)
		return err
	}
	logging.Debug("Removed staged source %s", s.path)
	return nil
}

// Refs returns the number of outstanding references.
func (s *Source) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}
