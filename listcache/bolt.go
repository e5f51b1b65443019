package listcache

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"
)

// Bolt is a Cache persisted in a bbolt file. Expiry is tracked in a
// time-ordered index so an ExpiryReaper can delete stale entries in batches;
// reads treat expired entries as absent even before they are reaped.
type Bolt struct {
	db     *bbolt.DB
	logger *slog.Logger
	now    func() time.Time
	noSync bool
}

// BoltOption configures a Bolt cache.
type BoltOption func(*Bolt)

// WithBoltLogger sets the logger for the database.
func WithBoltLogger(logger *slog.Logger) BoltOption {
	return func(b *Bolt) {
		b.logger = logger
	}
}

// WithBoltNow sets the time function for testing.
func WithBoltNow(now func() time.Time) BoltOption {
	return func(b *Bolt) {
		b.now = now
	}
}

// WithNoSync disables fsync per transaction.
// WARNING: This improves write performance but risks data loss on crash.
// Use only for testing or benchmarking, never in production.
func WithNoSync(noSync bool) BoltOption {
	return func(b *Bolt) {
		b.noSync = noSync
	}
}

// OpenBolt opens the cache database at the given path.
func OpenBolt(path string, opts ...BoltOption) (*Bolt, error) {
	b := &Bolt{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  b.noSync,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	b.db = db

	if err := b.createBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	b.logger.Debug("opened listing cache", "path", path, "noSync", b.noSync)
	return b, nil
}

func (b *Bolt) createBuckets() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketListings, bucketByExpiry, bucketExpiryByKey} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Close closes the database.
func (b *Bolt) Close() error {
	if b.db == nil {
		return nil
	}
	b.logger.Debug("closing listing cache")
	return b.db.Close()
}

// Get implements Cache.
func (b *Bolt) Get(_ context.Context, key string) ([]byte, error) {
	var data []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketListings).Get([]byte(key))
		if val == nil {
			return ErrNotFound
		}

		if ts := tx.Bucket(bucketExpiryByKey).Get([]byte(key)); ts != nil {
			if !b.now().Before(parseDeadline(ts)) {
				return ErrNotFound
			}
		}

		data = make([]byte, len(val))
		copy(data, val)
		return nil
	})
	return data, err
}

// Put implements Cache.
func (b *Bolt) Put(_ context.Context, key string, data []byte, ttl time.Duration) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketListings).Put([]byte(key), data); err != nil {
			return fmt.Errorf("putting listing: %w", err)
		}

		// Update expiry index (removes old entry, adds new if ttl > 0)
		var expiresAt *time.Time
		if ttl > 0 {
			t := b.now().Add(ttl)
			expiresAt = &t
		}
		return b.updateExpiryIndex(tx, key, expiresAt)
	})
}

// Delete removes a key and its expiry index entries.
func (b *Bolt) Delete(_ context.Context, key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := b.updateExpiryIndex(tx, key, nil); err != nil {
			return err
		}
		return tx.Bucket(bucketListings).Delete([]byte(key))
	})
}

// updateExpiryIndex updates the forward+reverse expiry indexes.
// If expiresAt is nil, only deletes existing index entries.
func (b *Bolt) updateExpiryIndex(tx *bbolt.Tx, key string, expiresAt *time.Time) error {
	forward := tx.Bucket(bucketByExpiry)
	reverse := tx.Bucket(bucketExpiryByKey)

	if ts := reverse.Get([]byte(key)); ts != nil {
		if err := forward.Delete(deadlineKey(parseDeadline(ts), key)); err != nil {
			return fmt.Errorf("deleting old expiry index: %w", err)
		}
		if err := reverse.Delete([]byte(key)); err != nil {
			return fmt.Errorf("deleting reverse index: %w", err)
		}
	}

	if expiresAt != nil {
		if err := forward.Put(deadlineKey(*expiresAt, key), []byte(key)); err != nil {
			return fmt.Errorf("putting expiry index: %w", err)
		}
		if err := reverse.Put([]byte(key), deadlineBytes(*expiresAt)); err != nil {
			return fmt.Errorf("putting expiry reverse index: %w", err)
		}
	}

	return nil
}

// GetExpired returns up to limit keys whose expiry is at or before the given time,
// oldest first.
func (b *Bolt) GetExpired(_ context.Context, before time.Time, limit int) ([]string, error) {
	var keys []string
	cutoff := deadlineBytes(before)

	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketByExpiry).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if len(k) < deadlineSize || bytes.Compare(k[:deadlineSize], cutoff) > 0 {
				break
			}
			keys = append(keys, string(v))
			if limit > 0 && len(keys) >= limit {
				break
			}
		}
		return nil
	})
	return keys, err
}

// PurgeExpired deletes up to limit listings whose deadline is at or before
// now, in a single transaction, and returns how many were removed.
func (b *Bolt) PurgeExpired(_ context.Context, limit int) (int, error) {
	cutoff := deadlineBytes(b.now())
	var purged int

	err := b.db.Update(func(tx *bbolt.Tx) error {
		listings := tx.Bucket(bucketListings)
		reverse := tx.Bucket(bucketExpiryByKey)

		// collect first: deleting while iterating skips entries
		var stale [][]byte
		c := tx.Bucket(bucketByExpiry).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if len(k) < deadlineSize || bytes.Compare(k[:deadlineSize], cutoff) > 0 {
				break
			}
			stale = append(stale, bytes.Clone(k))
			if limit > 0 && len(stale) >= limit {
				break
			}
		}

		forward := tx.Bucket(bucketByExpiry)
		for _, k := range stale {
			key := k[deadlineSize:]
			if err := forward.Delete(k); err != nil {
				return fmt.Errorf("deleting expiry index: %w", err)
			}
			if err := reverse.Delete(key); err != nil {
				return fmt.Errorf("deleting reverse index: %w", err)
			}
			if err := listings.Delete(key); err != nil {
				return fmt.Errorf("deleting listing: %w", err)
			}
		}
		purged = len(stale)
		return nil
	})
	return purged, err
}
