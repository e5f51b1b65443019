// Package catalog provides read access to the paginated key/value file catalog.
package catalog

import (
	"context"
	"errors"

	randomfile "github.com/wolfeidau/random-file"
)

// DefaultPageLimit is the largest page size accepted by the KV list API.
const DefaultPageLimit = 1000

var (
	// ErrNotFound is returned when the catalog namespace does not exist.
	ErrNotFound = errors.New("catalog: not found")

	// ErrInvalidCursor is returned when a continuation cursor cannot be decoded.
	ErrInvalidCursor = errors.New("catalog: invalid cursor")
)

// Store lists catalog keys a page at a time.
// Implementations must be safe for concurrent use.
type Store interface {
	// List returns up to limit keys starting after cursor. An empty cursor
	// starts from the beginning. The returned Page.Cursor is empty when no
	// further pages remain.
	List(ctx context.Context, cursor string, limit int) (*Page, error)
}

// Metadata is the optional metadata attached to a catalog key.
type Metadata struct {
	FileType randomfile.FileTypes `json:"FileType,omitempty"`
}

// Key is a single catalog key as returned by the store.
type Key struct {
	Name     string    `json:"name"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

// FileType returns the key's file types, or nil when no metadata was stored.
func (k Key) FileType() randomfile.FileTypes {
	if k.Metadata == nil {
		return nil
	}
	return k.Metadata.FileType
}

// Page is one page of a catalog listing.
type Page struct {
	Keys   []Key
	Cursor string
}
