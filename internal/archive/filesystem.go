package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemBackend stores objects as files below basePath.
type FilesystemBackend struct {
	basePath string
}

func NewFilesystemBackend(basePath string) *FilesystemBackend {
	return &FilesystemBackend{basePath: basePath}
}

// buildPath rejects keys that would escape basePath.
func (f *FilesystemBackend) buildPath(key string) (string, error) {
	if key == "" || strings.Contains(key, "\x00") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if filepath.IsAbs(key) || (len(key) >= 2 && key[1] == ':') {
		return "", fmt.Errorf("%w: absolute paths not allowed", ErrInvalidKey)
	}

	cleanKey := filepath.Clean(filepath.FromSlash(key))
	if cleanKey == ".." || strings.HasPrefix(cleanKey, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path traversal", ErrInvalidKey)
	}

	fullPath := filepath.Join(f.basePath, cleanKey)
	cleanBase := filepath.Clean(f.basePath)
	if !strings.HasPrefix(fullPath, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path escapes base directory", ErrInvalidKey)
	}

	return fullPath, nil
}

func (f *FilesystemBackend) Put(ctx context.Context, key string, r io.Reader, _ int64) error {
	fullPath, err := f.buildPath(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("writing file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing file: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		return fmt.Errorf("renaming file: %w", err)
	}
	return nil
}

func (f *FilesystemBackend) Get(_ context.Context, key string) (io.ReadCloser, error) {
	fullPath, err := f.buildPath(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("opening file: %w", err)
	}
	return file, nil
}

func (f *FilesystemBackend) Exists(_ context.Context, key string) (bool, error) {
	fullPath, err := f.buildPath(key)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(fullPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("checking file: %w", err)
	}
	return true, nil
}
