// Package storage persists uploaded artifacts on a go-billy filesystem: the
// OS filesystem in production, an in-memory one in tests.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// ArtifactStore is the narrow surface the upload pipeline needs.
type ArtifactStore interface {
	// Size returns the persisted byte count, 0 when nothing was written yet.
	Size(name string) (int64, error)
	// Stat returns the size or an error wrapping os.ErrNotExist.
	Stat(name string) (int64, error)
	// Append opens the file for appending, creating it and its directory.
	Append(name string) (io.WriteCloser, error)
	Open(name string) (io.ReadCloser, error)
	// RemoveAll deletes a file or directory tree. Missing paths are ignored.
	RemoveAll(name string) error
}

type BillyStore struct {
	fs billy.Filesystem
}

func NewBillyStore(fsys billy.Filesystem) *BillyStore {
	return &BillyStore{fs: fsys}
}

// NewOSStore roots the store at dir on the local disk.
func NewOSStore(dir string) *BillyStore {
	return &BillyStore{fs: osfs.New(dir)}
}

func NewMemoryStore() *BillyStore {
	return &BillyStore{fs: memfs.New()}
}

func (s *BillyStore) Size(name string) (int64, error) {
	size, err := s.Stat(name)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	return size, err
}

func (s *BillyStore) Stat(name string) (int64, error) {
	info, err := s.fs.Stat(name)
	if err != nil {
		return 0, fmt.Errorf("storage: stat %q: %w", name, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("storage: stat %q: is a directory: %w", name, os.ErrNotExist)
	}
	return info.Size(), nil
}

func (s *BillyStore) Append(name string) (io.WriteCloser, error) {
	if err := s.fs.MkdirAll(path.Dir(name), 0o755); err != nil {
		return nil, fmt.Errorf("storage: mkdirall %q: %w", path.Dir(name), err)
	}
	f, err := s.fs.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: open %q for append: %w", name, err)
	}
	return f, nil
}

func (s *BillyStore) Open(name string) (io.ReadCloser, error) {
	f, err := s.fs.Open(name)
	if err != nil {
		return nil, fmt.Errorf("storage: open %q: %w", name, err)
	}
	return f, nil
}

func (s *BillyStore) RemoveAll(name string) error {
	if err := util.RemoveAll(s.fs, name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: remove %q: %w", name, err)
	}
	return nil
}

// ReadAll is a convenience for tests and small artifacts.
func ReadAll(s ArtifactStore, name string) ([]byte, error) {
	rc, err := s.Open(name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
