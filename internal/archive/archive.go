// Package archive keeps copies of rendered reports on the filesystem or in
// S3-compatible object storage.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/ticketdesk/reportd/internal/config"
)

var (
	ErrNotFound      = errors.New("archived report not found")
	ErrInvalidConfig = errors.New("invalid archive configuration")
	ErrInvalidKey    = errors.New("invalid archive key")
)

// Backend stores opaque objects by key.
type Backend interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Archive stores rendered report bodies under deterministic keys.
type Archive struct {
	backend     Backend
	compression string
}

// New builds the configured archive. It returns nil when archiving is
// disabled.
func New(ctx context.Context, cfg config.ArchiveConfig) (*Archive, error) {
	var backend Backend
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "filesystem":
		backend = NewFilesystemBackend(cfg.Path)
	case "s3":
		if cfg.S3 == nil {
			return nil, fmt.Errorf("%w: s3 settings are required", ErrInvalidConfig)
		}
		b, err := NewS3Backend(ctx, *cfg.S3)
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		return nil, fmt.Errorf("%w: unknown archive type %q", ErrInvalidConfig, cfg.Type)
	}

	return NewArchive(backend, cfg.Compression), nil
}

// NewArchive wraps backend. compression is "", "none", "gzip" or "zstd".
func NewArchive(backend Backend, compression string) *Archive {
	if compression == "none" {
		compression = ""
	}
	return &Archive{backend: backend, compression: compression}
}

// Key returns the object key for an execution's report.
func (a *Archive) Key(scheduleID, executionID string, at time.Time) string {
	return path.Join("reports", scheduleID, at.UTC().Format("2006/01/02"), executionID+".html") + extension(a.compression)
}

// Store saves an execution's HTML report and returns its key.
func (a *Archive) Store(ctx context.Context, scheduleID, executionID string, at time.Time, html []byte) (string, error) {
	key := a.Key(scheduleID, executionID, at)

	body, err := compress(a.compression, html)
	if err != nil {
		return "", fmt.Errorf("compressing report: %w", err)
	}

	if err := a.backend.Put(ctx, key, bytes.NewReader(body), int64(len(body))); err != nil {
		return "", fmt.Errorf("storing report %s: %w", key, err)
	}
	return key, nil
}

// Open returns the decompressed report stored under key.
func (a *Archive) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := a.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return decompress(compressionFor(key), rc)
}
