package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// LocalStore keeps content in a directory tree on an afero filesystem and
// serves it from a static base URL.
type LocalStore struct {
	fs      afero.Fs
	root    string
	baseURL string
}

// NewLocalStore creates a store rooted at root. baseURL is the public address
// root is served from.
func NewLocalStore(fs afero.Fs, root, baseURL string) *LocalStore {
	return &LocalStore{
		fs:      fs,
		root:    root,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// path maps a store name onto the filesystem; ".." never climbs above root.
func (s *LocalStore) path(name string) string {
	clean := path.Clean("/" + name)
	if clean == "/" {
		return s.root
	}
	return filepath.Join(s.root, filepath.FromSlash(clean))
}

// Exists reports whether name is stored.
func (s *LocalStore) Exists(_ context.Context, name string) (bool, error) {
	return afero.Exists(s.fs, s.path(name))
}

// Save writes r to name, creating parent directories as needed.
func (s *LocalStore) Save(_ context.Context, name string, r io.Reader, _ int64) error {
	p := s.path(name)
	if err := s.fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", name, err)
	}

	f, err := s.fs.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return f.Close()
}

// Open returns the content of name or ErrNotExist.
func (s *LocalStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	p := s.path(name)
	info, err := s.fs.Stat(p)
	if errors.Is(err, os.ErrNotExist) || (err == nil && info.IsDir()) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, err
	}
	return s.fs.Open(p)
}

// URL joins name onto the public base URL.
func (s *LocalStore) URL(_ context.Context, name string) (string, error) {
	return s.baseURL + "/" + strings.TrimPrefix(path.Clean("/"+name), "/"), nil
}

// RemoveTree deletes prefix and everything below it.
func (s *LocalStore) RemoveTree(_ context.Context, prefix string) error {
	p := s.path(prefix)
	if p == s.root {
		return fmt.Errorf("refusing to remove the store root")
	}
	return s.fs.RemoveAll(p)
}
