package backend

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/wolfeidau/random-file/telemetry"
)

// InstrumentedBackend wraps a Backend with metrics recording.
type InstrumentedBackend struct {
	backend Backend
	name    string
}

// NewInstrumentedBackend creates a new instrumented backend wrapper.
func NewInstrumentedBackend(b Backend, name string) *InstrumentedBackend {
	return &InstrumentedBackend{backend: b, name: name}
}

// Read records the open and, when the body is closed, the bytes streamed.
func (ib *InstrumentedBackend) Read(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	start := time.Now()
	rc, info, err := ib.backend.Read(ctx, key)
	if err != nil {
		telemetry.RecordBackendOp(ctx, ib.name, "read", outcomeFromError(err), time.Since(start), 0)
		return nil, nil, err
	}
	return &countingReadCloser{
		ReadCloser: rc,
		record: func(n int64) {
			telemetry.RecordBackendOp(ctx, ib.name, "read", "success", time.Since(start), n)
		},
	}, info, nil
}

func (ib *InstrumentedBackend) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	start := time.Now()
	info, err := ib.backend.Stat(ctx, key)
	telemetry.RecordBackendOp(ctx, ib.name, "stat", outcomeFromError(err), time.Since(start), 0)
	return info, err
}

// Unwrap returns the underlying backend.
func (ib *InstrumentedBackend) Unwrap() Backend {
	return ib.backend
}

func outcomeFromError(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, ErrNotFound) {
		return "not_found"
	}
	return "error"
}

// countingReadCloser counts bytes read and reports them once on Close.
type countingReadCloser struct {
	io.ReadCloser
	n        int64
	record   func(int64)
	recorded bool
}

func (c *countingReadCloser) Read(p []byte) (int, error) {
	n, err := c.ReadCloser.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingReadCloser) Close() error {
	if !c.recorded {
		c.recorded = true
		c.record(c.n)
	}
	return c.ReadCloser.Close()
}

// Compile-time interface checks
var (
	_ Backend = (*InstrumentedBackend)(nil)
	_ Backend = (*Filesystem)(nil)
	_ Backend = (*S3)(nil)
)
