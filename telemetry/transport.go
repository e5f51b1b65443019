package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"
)

// DefaultUserAgent is sent on outbound requests that do not set one.
const DefaultUserAgent = "random-file"

// InstrumentedTransport records upstream fetch metrics for the catalog API
// and proxied file fetches.
type InstrumentedTransport struct {
	base      http.RoundTripper
	upstream  string
	userAgent string
}

// TransportOption configures an InstrumentedTransport.
type TransportOption func(*InstrumentedTransport)

// WithUserAgent overrides DefaultUserAgent.
func WithUserAgent(ua string) TransportOption {
	return func(t *InstrumentedTransport) {
		t.userAgent = ua
	}
}

// NewInstrumentedTransport wraps base, labelling metrics with upstream.
// A nil base uses http.DefaultTransport.
func NewInstrumentedTransport(base http.RoundTripper, upstream string, opts ...TransportOption) *InstrumentedTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	t := &InstrumentedTransport{base: base, upstream: upstream, userAgent: DefaultUserAgent}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RoundTrip implements http.RoundTripper. The fetch is recorded once the
// body hits EOF or is closed, whichever comes first.
func (t *InstrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		RecordUpstreamFetch(req.Context(), t.upstream, time.Since(start), 0, errorOutcome(req.Context()))
		return nil, err
	}

	resp.Body = &meteredBody{
		ReadCloser: resp.Body,
		record: func(n int64) {
			RecordUpstreamFetch(req.Context(), t.upstream, time.Since(start), n, statusOutcome(resp.StatusCode))
		},
	}
	return resp, nil
}

func errorOutcome(ctx context.Context) string {
	if ctx.Err() != nil {
		return "canceled"
	}
	return "error"
}

func statusOutcome(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	default:
		return "success"
	}
}

type meteredBody struct {
	io.ReadCloser
	n      int64
	record func(int64)
	once   sync.Once
}

func (b *meteredBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.n += int64(n)
	if errors.Is(err, io.EOF) {
		b.done()
	}
	return n, err
}

func (b *meteredBody) Close() error {
	b.done()
	return b.ReadCloser.Close()
}

func (b *meteredBody) done() {
	b.once.Do(func() { b.record(b.n) })
}
