package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/wolfeidau/random-file/telemetry"
)

// Instrumented wraps a Store with page fetch metrics.
type Instrumented struct {
	store Store
	name  string
}

// NewInstrumented creates a new instrumented store wrapper.
func NewInstrumented(s Store, name string) *Instrumented {
	return &Instrumented{store: s, name: name}
}

// List implements Store.
func (i *Instrumented) List(ctx context.Context, cursor string, limit int) (*Page, error) {
	start := time.Now()
	page, err := i.store.List(ctx, cursor, limit)

	outcome := "success"
	keys := 0
	switch {
	case err == nil:
		keys = len(page.Keys)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = "canceled"
	default:
		outcome = "error"
	}
	telemetry.RecordCatalogPage(ctx, i.name, outcome, keys, time.Since(start))
	return page, err
}
