// Package storage stages uploaded mapping files until a worker has
// processed them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Open for an unknown or already removed key.
var ErrNotFound = errors.New("staged file not found")

// Stager keeps uploaded files addressable by an opaque key.
type Stager interface {
	Stage(ctx context.Context, src io.Reader, name string) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Backend() string
}

// New builds the stager selected by cfg.Backend.
func New(ctx context.Context, cfg *Config) (Stager, error) {
	switch cfg.Backend {
	case BackendLocal:
		return NewLocalStager(cfg.LocalDir)
	case BackendS3:
		return NewS3Stager(ctx, &cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported upload storage backend %q", cfg.Backend)
	}
}

// objectKey generates a standardized key for an upload.
// Format: YYYY/MM/UUID.ext
func objectKey(name string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".csv", ".json", ".txt":
	default:
		ext = ""
	}
	return fmt.Sprintf("%04d/%02d/%s%s", now.Year(), int(now.Month()), uuid.New().String(), ext)
}

// validKey rejects keys that could escape the staging area.
func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}
