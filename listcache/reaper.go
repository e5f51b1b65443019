package listcache

import (
	"context"
	"log/slog"
	"time"

	"github.com/wolfeidau/random-file/telemetry"
)

const (
	defaultReapInterval  = 5 * time.Minute
	defaultReapBatchSize = 100
)

// ExpiryReaper removes expired listings from a Bolt cache. Reads already
// treat them as misses; the reaper keeps the file from growing with origins
// that stop asking.
type ExpiryReaper struct {
	db        *Bolt
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

// ReaperOption configures an ExpiryReaper.
type ReaperOption func(*ExpiryReaper)

// WithReaperInterval sets how often Run sweeps.
func WithReaperInterval(d time.Duration) ReaperOption {
	return func(r *ExpiryReaper) {
		r.interval = d
	}
}

// WithReaperBatchSize caps the listings purged per transaction.
func WithReaperBatchSize(n int) ReaperOption {
	return func(r *ExpiryReaper) {
		r.batchSize = n
	}
}

// WithReaperLogger sets the logger.
func WithReaperLogger(logger *slog.Logger) ReaperOption {
	return func(r *ExpiryReaper) {
		r.logger = logger
	}
}

// NewExpiryReaper creates a reaper for db.
func NewExpiryReaper(db *Bolt, opts ...ReaperOption) *ExpiryReaper {
	r := &ExpiryReaper{
		db:        db,
		interval:  defaultReapInterval,
		batchSize: defaultReapBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.interval <= 0 {
		r.interval = defaultReapInterval
	}
	return r
}

// Run sweeps once immediately, to clear listings left by a previous
// process, then on every interval until ctx is cancelled.
func (r *ExpiryReaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Debug("listing reaper started", "interval", r.interval, "batch_size", r.batchSize)
	r.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("listing reaper stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep purges batches until one comes back short and returns the total.
func (r *ExpiryReaper) Sweep(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		n := r.ReapNow(ctx)
		total += n
		if r.batchSize <= 0 || n < r.batchSize {
			break
		}
	}
	if total > 0 {
		r.logger.Info("expired listings reaped", "deleted", total)
	}
	return total
}

// ReapNow purges a single batch and returns how many listings went.
func (r *ExpiryReaper) ReapNow(ctx context.Context) int {
	start := time.Now()
	n, err := r.db.PurgeExpired(ctx, r.batchSize)
	telemetry.RecordReaperCycle(ctx, "listing", n, time.Since(start))
	if err != nil {
		r.logger.Error("purging expired listings", "error", err)
		return 0
	}
	return n
}
