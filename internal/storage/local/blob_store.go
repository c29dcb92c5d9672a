// Package local implements a filesystem cache store: one file per entry in a
// single flat directory.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/exercise-crawler/internal/cache"
)

// Config captures the parameters for the local filesystem store.
type Config struct {
	// BaseDir is the directory where entries are stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Store writes cache entries to the local filesystem.
type Store struct {
	baseDir string
}

var _ cache.Store = (*Store)(nil)

// New creates a filesystem-backed store, creating BaseDir when missing.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &Store{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

// Dir returns the directory holding the entries.
func (s *Store) Dir() string {
	return s.baseDir
}

// Get reads the named entry.
func (s *Store) Get(_ context.Context, name string) ([]byte, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path is confined to baseDir by s.path.
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", cache.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read entry: %w", err)
	}
	return data, nil
}

// Put writes data to a temporary file and renames it over the entry, so
// readers see either the previous entry or the new one.
func (s *Store) Put(_ context.Context, name string, data []byte) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.baseDir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename entry: %w", err)
	}
	return nil
}

// Delete removes the named entry.
func (s *Store) Delete(_ context.Context, name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", cache.ErrNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("remove entry: %w", err)
	}
	return nil
}

// List returns the names of every entry file in the directory.
func (s *Store) List(_ context.Context) ([]string, error) {
	dirEntries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read cache dir: %w", err)
	}
	var names []string
	for _, e := range dirEntries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (s *Store) path(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("name is required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("path traversal detected")
	}
	return filepath.Join(s.baseDir, name), nil
}
