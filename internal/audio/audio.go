// Package audio persists downloaded/normalized WAV audio, either to local
// disk (default) or to S3-compatible object storage, which the worker selects
// when an S3 bucket is configured (S3_BUCKET_NAME).
package audio

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"videorag/internal/apperr"
)

// Store is the storage abstraction the Ingest stage writes audio through.
type Store interface {
	// Save persists the file at localTmpPath under key and returns the path
	// (local path or S3 key) to record on the Video row.
	Save(ctx context.Context, key string, localTmpPath string) (string, error)
	// Open returns a reader for a previously saved key.
	Open(ctx context.Context, storedPath string) (io.ReadCloser, error)
	// Delete removes previously saved keys, best-effort.
	Delete(ctx context.Context, storedPaths []string) error
}

// LocalStore stores audio files under a root directory on local disk.
type LocalStore struct {
	dir string
}

// NewLocalStore constructs a LocalStore rooted at dir, creating it if
// necessary.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.KindCritical, "failed to create audio directory", err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.dir, key)
}

// Save moves/copies localTmpPath into the store under key.
func (s *LocalStore) Save(ctx context.Context, key string, localTmpPath string) (string, error) {
	dest := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", apperr.Wrap(apperr.KindCritical, "failed to create audio subdirectory", err)
	}
	if err := os.Rename(localTmpPath, dest); err != nil {
		// Rename fails across filesystems/devices; fall back to copy+remove.
		if copyErr := copyFile(localTmpPath, dest); copyErr != nil {
			return "", apperr.Wrap(apperr.KindCritical, "failed to store audio file", copyErr)
		}
		os.Remove(localTmpPath)
	}
	return dest, nil
}

// Open opens a previously saved file by its stored path.
func (s *LocalStore) Open(ctx context.Context, storedPath string) (io.ReadCloser, error) {
	f, err := os.Open(storedPath)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPipeline, fmt.Sprintf("audio file %q is missing", storedPath), err)
	}
	return f, nil
}

// Delete removes the given local files, best-effort.
func (s *LocalStore) Delete(ctx context.Context, storedPaths []string) error {
	for _, p := range storedPaths {
		_ = os.Remove(p)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
