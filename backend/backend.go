// Package backend provides read access to the stored catalog files.
package backend

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when a key does not exist in the backend.
var ErrNotFound = errors.New("not found")

// ObjectInfo describes a stored file.
type ObjectInfo struct {
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Backend defines the interface for file storage backends.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Read retrieves data at the given key along with its metadata.
	// Returns ErrNotFound if the key does not exist.
	// The caller must close the returned ReadCloser.
	Read(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)

	// Stat returns metadata for the given key.
	// Returns ErrNotFound if the key does not exist.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
}
