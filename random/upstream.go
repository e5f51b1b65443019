package random

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wolfeidau/random-file/telemetry"
)

const (
	// DefaultFetchTimeout bounds a single proxied file fetch.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultImageContentType is used when the file origin sends no content type.
	DefaultImageContentType = "image/jpeg"
)

// FileSource opens catalog files by name without going over HTTP.
type FileSource interface {
	Open(ctx context.Context, name string) (*FetchResult, error)
}

// Fetcher retrieves file bodies for the inline image response.
type Fetcher struct {
	client *http.Client
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *Fetcher) {
		f.client = client
	}
}

// NewFetcher creates a fetcher whose transport records upstream metrics.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			Timeout:   DefaultFetchTimeout,
			Transport: telemetry.NewInstrumentedTransport(nil, "image"),
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchResult is an open file body. The caller must close Body.
type FetchResult struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

// Fetch issues a GET for url. Transport failures and non-2xx responses are
// reported as ErrUpstreamUnavailable.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching %s: %w", ErrUpstreamUnavailable, url, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: fetching %s: status %d", ErrUpstreamUnavailable, url, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = DefaultImageContentType
	}

	return &FetchResult{
		Body:          resp.Body,
		ContentType:   contentType,
		ContentLength: resp.ContentLength,
	}, nil
}
