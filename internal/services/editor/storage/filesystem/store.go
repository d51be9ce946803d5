// Package filesystem stores uploads as plain files under one directory.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/officecollab/internal/services/editor/storage"
)

// Store writes each upload to <dir>/<key>_<name>.
type Store struct {
	dir string
}

// Open creates dir when missing and returns a store rooted there.
func Open(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("upload directory is required")
	}
	cleanDir := filepath.Clean(dir)
	if err := os.MkdirAll(cleanDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	return &Store{dir: cleanDir}, nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// PutUpload writes the upload bytes and returns the file path.
func (s *Store) PutUpload(ctx context.Context, upload storage.Upload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s == nil || s.dir == "" {
		return "", fmt.Errorf("storage is not configured")
	}
	key := strings.TrimSpace(upload.Key)
	if key == "" || strings.ContainsAny(key, `/\`) {
		return "", fmt.Errorf("upload key %q is invalid", upload.Key)
	}
	name := filepath.Base(strings.TrimSpace(upload.Name))
	if name == "." || name == string(filepath.Separator) {
		name = "upload"
	}

	path := filepath.Join(s.dir, key+"_"+name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", storage.ErrAlreadyExists
		}
		return "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := f.Write(upload.Data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write upload file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close upload file: %w", err)
	}
	return path, nil
}

// GetUpload reads an upload previously written by PutUpload.
func (s *Store) GetUpload(ctx context.Context, locator string) (storage.Upload, error) {
	if err := ctx.Err(); err != nil {
		return storage.Upload{}, err
	}
	if s == nil || s.dir == "" {
		return storage.Upload{}, fmt.Errorf("storage is not configured")
	}
	path := filepath.Clean(locator)
	if filepath.Dir(path) != s.dir {
		return storage.Upload{}, storage.ErrNotFound
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return storage.Upload{}, storage.ErrNotFound
		}
		return storage.Upload{}, fmt.Errorf("stat upload file: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return storage.Upload{}, fmt.Errorf("read upload file: %w", err)
	}
	key, name, _ := strings.Cut(filepath.Base(path), "_")
	return storage.Upload{
		Key:       key,
		Name:      name,
		Data:      data,
		CreatedAt: info.ModTime().UTC().Truncate(time.Millisecond),
	}, nil
}

var _ storage.UploadStore = (*Store)(nil)
