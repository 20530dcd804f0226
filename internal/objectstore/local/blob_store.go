// Package local implements a filesystem-backed object store.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/JakeFAU/realtime-job-postings/internal/objectstore"
)

// Config captures the parameters for the local filesystem store.
type Config struct {
	// BaseDir is the root directory where objects will be stored.
	BaseDir string `mapstructure:"base_dir"`
}

// BlobStore maps object keys to files under BaseDir. Writes go through a
// temporary file and a rename so readers never see a partial object.
type BlobStore struct {
	baseDir string
}

var _ objectstore.Backend = (*BlobStore)(nil)

// New creates a local filesystem-backed store, creating BaseDir if needed.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &BlobStore{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

// Get reads the file behind key. Version is the file's modification time.
func (s *BlobStore) Get(_ context.Context, key string) ([]byte, objectstore.Attrs, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return nil, objectstore.Attrs{}, err
	}
	// #nosec G304 -- fullPath is confined to baseDir by resolve.
	data, err := os.ReadFile(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, objectstore.Attrs{}, objectstore.ErrNotFound
	}
	if err != nil {
		return nil, objectstore.Attrs{}, fmt.Errorf("read %s: %w", key, err)
	}
	attrs := objectstore.Attrs{Size: int64(len(data))}
	if info, statErr := os.Stat(fullPath); statErr == nil {
		attrs.Version = info.ModTime().UnixNano()
	}
	return data, attrs, nil
}

// Put writes data to key atomically.
func (s *BlobStore) Put(
	_ context.Context,
	key string,
	data []byte,
	_ objectstore.PutOptions,
) (objectstore.Attrs, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return objectstore.Attrs{}, err
	}
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return objectstore.Attrs{}, fmt.Errorf("failed to create parent directories: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return objectstore.Attrs{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return objectstore.Attrs{}, fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return objectstore.Attrs{}, fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		_ = os.Remove(tmpName)
		return objectstore.Attrs{}, fmt.Errorf("rename %s: %w", key, err)
	}

	attrs := objectstore.Attrs{Size: int64(len(data))}
	if info, statErr := os.Stat(fullPath); statErr == nil {
		attrs.Version = info.ModTime().UnixNano()
	}
	return attrs, nil
}

// Delete removes the file behind key.
func (s *BlobStore) Delete(_ context.Context, key string) error {
	fullPath, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return objectstore.ErrNotFound
		}
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// List walks BaseDir and returns every key starting with prefix.
func (s *BlobStore) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.baseDir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *BlobStore) resolve(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	fullPath := filepath.Clean(filepath.Join(s.baseDir, filepath.FromSlash(key)))
	if !strings.HasPrefix(fullPath, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return fullPath, nil
}
