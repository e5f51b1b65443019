package listcache

import (
	"context"
	"errors"
	"time"

	"github.com/wolfeidau/random-file/telemetry"
)

// Instrumented wraps a Cache with operation metrics.
type Instrumented struct {
	cache Cache
	name  string
}

// NewInstrumented creates a new instrumented cache wrapper.
func NewInstrumented(c Cache, name string) *Instrumented {
	return &Instrumented{cache: c, name: name}
}

// Get implements Cache.
func (i *Instrumented) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := i.cache.Get(ctx, key)

	outcome := "hit"
	switch {
	case errors.Is(err, ErrNotFound):
		outcome = "miss"
	case err != nil:
		outcome = "error"
	}
	telemetry.RecordCacheOp(ctx, i.name, "get", outcome, time.Since(start))
	return data, err
}

// Put implements Cache.
func (i *Instrumented) Put(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	start := time.Now()
	err := i.cache.Put(ctx, key, data, ttl)

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	telemetry.RecordCacheOp(ctx, i.name, "put", outcome, time.Since(start))
	return err
}
