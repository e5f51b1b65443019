// Package telemetry carries per-request tags for logging plus the
// OpenTelemetry metrics of the random file service.
package telemetry

import (
	"context"
	"net/http"
)

type tagsKey struct{}

// CacheResult is the outcome of the listing cache lookup for a request.
type CacheResult string

const (
	CacheHit    CacheResult = "hit"
	CacheMiss   CacheResult = "miss"
	CacheBypass CacheResult = "bypass" // no lookup happened, e.g. /file or /health
	CacheNA     CacheResult = "na"     // random was refused before any lookup
)

// RequestTags is filled in by handlers while the request runs and read by
// the logging middleware once it completes. Fields are written from the
// request goroutine only.
type RequestTags struct {
	Route       string
	Endpoint    string
	CacheResult CacheResult

	// Set by the random handler when a pick is attempted.
	Mode        string
	ListingSize int
	Picked      string
}

// InjectTags returns r with a fresh RequestTags attached.
func InjectTags(r *http.Request) *http.Request {
	tags := &RequestTags{CacheResult: CacheBypass, ListingSize: -1}
	return r.WithContext(context.WithValue(r.Context(), tagsKey{}, tags))
}

// GetTags returns the tags attached to r, or nil outside the middleware.
func GetTags(r *http.Request) *RequestTags {
	return TagsFromContext(r.Context())
}

// TagsFromContext is GetTags for code that only holds the context.
func TagsFromContext(ctx context.Context) *RequestTags {
	tags, _ := ctx.Value(tagsKey{}).(*RequestTags)
	return tags
}

// LogAttrs returns the tags that were set, as slog key/value pairs.
func (t *RequestTags) LogAttrs() []any {
	if t == nil {
		return nil
	}
	var attrs []any
	if t.Endpoint != "" {
		attrs = append(attrs, "endpoint", t.Endpoint)
	}
	if t.CacheResult != "" {
		attrs = append(attrs, "cache_result", string(t.CacheResult))
	}
	if t.Mode != "" {
		attrs = append(attrs, "pick_mode", t.Mode)
	}
	if t.ListingSize >= 0 {
		attrs = append(attrs, "listing_size", t.ListingSize)
	}
	if t.Picked != "" {
		attrs = append(attrs, "picked", t.Picked)
	}
	return attrs
}

// SetCacheResult records the listing cache outcome on r.
func SetCacheResult(r *http.Request, result CacheResult) {
	SetCacheResultContext(r.Context(), result)
}

// SetCacheResultContext records the listing cache outcome on ctx.
func SetCacheResultContext(ctx context.Context, result CacheResult) {
	if tags := TagsFromContext(ctx); tags != nil {
		tags.CacheResult = result
	}
}

// SetRoute sets the coarse route used as a metric label.
func SetRoute(r *http.Request, route string) {
	if tags := GetTags(r); tags != nil {
		tags.Route = route
	}
}

// SetEndpoint names the handler that served r.
func SetEndpoint(r *http.Request, endpoint string) {
	if tags := GetTags(r); tags != nil {
		tags.Endpoint = endpoint
	}
}

// SetPick records the response mode, the size of the filtered listing the
// pick was drawn from, and the chosen name (empty when nothing matched).
func SetPick(r *http.Request, mode string, listingSize int, picked string) {
	if tags := GetTags(r); tags != nil {
		tags.Mode = mode
		tags.ListingSize = listingSize
		tags.Picked = picked
	}
}
