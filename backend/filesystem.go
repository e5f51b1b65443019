package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// defaultContentType is used when the file extension is unknown.
const defaultContentType = "application/octet-stream"

// Filesystem implements Backend using the local filesystem.
// Keys are resolved inside root and cannot escape it.
type Filesystem struct {
	root    string
	dirRoot *os.Root
}

// NewFilesystem creates a new filesystem backend rooted at the given path.
// The directory must already exist.
func NewFilesystem(root string) (*Filesystem, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root path: %w", err)
	}
	dirRoot, err := os.OpenRoot(absRoot)
	if err != nil {
		return nil, fmt.Errorf("opening root directory: %w", err)
	}
	return &Filesystem{root: absRoot, dirRoot: dirRoot}, nil
}

// Root returns the root directory path.
func (b *Filesystem) Root() string {
	return b.root
}

// Close releases the root directory handle.
func (b *Filesystem) Close() error {
	return b.dirRoot.Close()
}

// Read retrieves data at the given key.
func (b *Filesystem) Read(_ context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	name, err := keyToName(key)
	if err != nil {
		return nil, nil, err
	}

	f, err := b.dirRoot.Open(name)
	if err != nil {
		return nil, nil, mapFSError(err, "opening file")
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, nil, ErrNotFound
	}
	return f, fileInfo(name, info), nil
}

// Stat returns metadata for the given key.
func (b *Filesystem) Stat(_ context.Context, key string) (*ObjectInfo, error) {
	name, err := keyToName(key)
	if err != nil {
		return nil, err
	}

	info, err := b.dirRoot.Stat(name)
	if err != nil {
		return nil, mapFSError(err, "stat file")
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}
	return fileInfo(name, info), nil
}

// keyToName converts a slash separated key to a root relative file name.
// Keys that would resolve outside the root are reported as not found.
func keyToName(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "\x00") {
		return "", ErrNotFound
	}
	return filepath.FromSlash(strings.TrimPrefix(clean, "/")), nil
}

func fileInfo(name string, info fs.FileInfo) *ObjectInfo {
	return &ObjectInfo{
		Size:         info.Size(),
		ContentType:  contentTypeFor(name),
		LastModified: info.ModTime(),
	}
}

// contentTypeFor guesses a content type from the file extension.
func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return defaultContentType
}

func mapFSError(err error, op string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
