package catalog

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"
)

// bucketKeys holds catalog keys: name -> JSON Metadata (empty value = no metadata).
var bucketKeys = []byte("catalog_keys")

// Bolt is a catalog store kept in a local bbolt file. Keys are listed in
// lexical order and the cursor is the base64url encoding of the last key
// returned.
type Bolt struct {
	db     *bbolt.DB
	logger *slog.Logger
}

// BoltOption configures a Bolt catalog.
type BoltOption func(*Bolt)

// WithBoltLogger sets the logger for the catalog.
func WithBoltLogger(logger *slog.Logger) BoltOption {
	return func(b *Bolt) {
		b.logger = logger
	}
}

// OpenBolt opens (creating if needed) a bbolt catalog at path.
func OpenBolt(path string, opts ...BoltOption) (*Bolt, error) {
	b := &Bolt{logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketKeys)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating catalog bucket: %w", err)
	}
	b.db = db

	b.logger.Debug("opened catalog", "path", path)
	return b, nil
}

// Close closes the underlying database.
func (b *Bolt) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

// List implements Store.
func (b *Bolt) List(_ context.Context, cursor string, limit int) (*Page, error) {
	if limit <= 0 || limit > DefaultPageLimit {
		limit = DefaultPageLimit
	}

	var after []byte
	if cursor != "" {
		decoded, err := base64.RawURLEncoding.DecodeString(cursor)
		if err != nil || len(decoded) == 0 {
			return nil, ErrInvalidCursor
		}
		after = decoded
	}

	page := &Page{}
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketKeys).Cursor()

		var k, v []byte
		if after == nil {
			k, v = c.First()
		} else {
			k, v = c.Seek(after)
			if k != nil && bytes.Equal(k, after) {
				k, v = c.Next()
			}
		}

		for ; k != nil; k, v = c.Next() {
			if len(page.Keys) == limit {
				page.Cursor = base64.RawURLEncoding.EncodeToString([]byte(page.Keys[len(page.Keys)-1].Name))
				return nil
			}
			key, err := decodeBoltKey(k, v)
			if err != nil {
				return err
			}
			page.Keys = append(page.Keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// Put stores a key with optional metadata. It is used to load a catalog
// for local development; the service itself only reads.
func (b *Bolt) Put(_ context.Context, name string, meta *Metadata) error {
	if name == "" {
		return fmt.Errorf("catalog key name required")
	}
	var val []byte
	if meta != nil {
		data, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("encoding metadata: %w", err)
		}
		val = data
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketKeys).Put([]byte(name), val)
	})
}

func decodeBoltKey(k, v []byte) (Key, error) {
	key := Key{Name: string(k)}
	if len(v) == 0 {
		return key, nil
	}
	var meta Metadata
	if err := json.Unmarshal(v, &meta); err != nil {
		return Key{}, fmt.Errorf("decoding metadata for %q: %w", key.Name, err)
	}
	key.Metadata = &meta
	return key, nil
}
