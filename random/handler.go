package random

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"sync"

	randomfile "github.com/wolfeidau/random-file"
	"github.com/wolfeidau/random-file/telemetry"
)

// Handler serves random file picks over HTTP.
type Handler struct {
	enabled      bool
	aggregator   *Aggregator
	renderer     *Renderer
	fetcher      *Fetcher
	files        FileSource
	origin       string
	allowedHosts map[string]bool
	trustProxy   bool
	logger       *slog.Logger

	rndMu sync.Mutex
	rnd   *rand.Rand
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithEnabled toggles the random endpoint. Disabled handlers answer 403
// without touching the catalog or the listing cache.
func WithEnabled(enabled bool) HandlerOption {
	return func(h *Handler) {
		h.enabled = enabled
	}
}

// WithHandlerLogger sets the logger for the handler.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithFetcher sets the fetcher used for inline image responses when no
// FileSource is configured.
func WithFetcher(f *Fetcher) HandlerOption {
	return func(h *Handler) {
		h.fetcher = f
	}
}

// WithFiles reads inline image responses in-process instead of over HTTP.
func WithFiles(files FileSource) HandlerOption {
	return func(h *Handler) {
		h.files = files
	}
}

// WithOrigin pins the public origin instead of deriving it from each request.
func WithOrigin(origin string) HandlerOption {
	return func(h *Handler) {
		h.origin = strings.TrimSuffix(origin, "/")
	}
}

// WithAllowedHosts restricts the Host header to the given names. Requests
// for other hosts are answered with 421. Entries may carry a port.
func WithAllowedHosts(hosts ...string) HandlerOption {
	return func(h *Handler) {
		for _, host := range hosts {
			if host = strings.ToLower(strings.TrimSpace(host)); host != "" {
				if h.allowedHosts == nil {
					h.allowedHosts = make(map[string]bool)
				}
				h.allowedHosts[host] = true
			}
		}
	}
}

// WithTrustProxyHeaders honours X-Forwarded-Proto when deriving the origin.
// Enable only behind a proxy that overwrites the header.
func WithTrustProxyHeaders(trust bool) HandlerOption {
	return func(h *Handler) {
		h.trustProxy = trust
	}
}

// WithRand sets the random source. Calls are serialized.
func WithRand(rnd *rand.Rand) HandlerOption {
	return func(h *Handler) {
		h.rnd = rnd
	}
}

// NewHandler creates a handler backed by agg. A nil agg, or one without a
// store, makes every enabled request fail as not configured.
func NewHandler(agg *Aggregator, opts ...HandlerOption) *Handler {
	h := &Handler{
		enabled:    true,
		aggregator: agg,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.renderer = NewRenderer(h.fetcher, h.logger, WithFileSource(h.files))
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	telemetry.SetEndpoint(r, "random")
	opts := ParseOptions(r.URL.Query())
	mode := string(opts.Mode)
	if mode == "" {
		mode = "path"
	}

	if !h.enabled {
		telemetry.SetCacheResult(r, telemetry.CacheNA)
		telemetry.RecordPick(r.Context(), mode, "disabled")
		writeError(w, h.logger, ErrFeatureDisabled)
		return
	}

	if !h.aggregator.Configured() {
		telemetry.SetCacheResult(r, telemetry.CacheNA)
		telemetry.RecordPick(r.Context(), mode, "error")
		writeError(w, h.logger, ErrNotConfigured)
		return
	}

	origin, err := h.resolveOrigin(r)
	if err != nil {
		telemetry.SetCacheResult(r, telemetry.CacheNA)
		telemetry.RecordPick(r.Context(), mode, "error")
		writeError(w, h.logger, err)
		return
	}

	q := r.URL.Query()
	requested := ParseContentTypes(q.Get("content"), q.Has("content"))

	listing, err := h.aggregator.GetFilteredCatalog(r.Context(), origin.cacheOrigin())
	if err != nil {
		telemetry.RecordPick(r.Context(), mode, "error")
		writeError(w, h.logger, err)
		return
	}

	entry, ok := h.pick(listing, requested)
	telemetry.SetPick(r, mode, len(listing), entry.Name)
	if !ok {
		telemetry.RecordPick(r.Context(), mode, "empty")
		h.renderer.Render(w, r, nil, opts)
		return
	}

	telemetry.RecordPick(r.Context(), mode, "picked")
	sel := NewSelection(origin.value, entry)
	if !origin.trusted {
		sel.FetchURL = ""
	}
	h.renderer.Render(w, r, sel, opts)
}

func (h *Handler) pick(listing randomfile.Listing, requested []string) (randomfile.Entry, bool) {
	if h.rnd == nil {
		return Pick(listing, requested, nil)
	}
	h.rndMu.Lock()
	defer h.rndMu.Unlock()
	return Pick(listing, requested, h.rnd)
}

// requestOrigin is the origin a request is served under. Only a trusted
// origin scopes the listing cache or is used as an outbound fetch target.
type requestOrigin struct {
	value   string
	trusted bool
}

func (o requestOrigin) cacheOrigin() string {
	if o.trusted {
		return o.value
	}
	return ""
}

func (h *Handler) resolveOrigin(r *http.Request) (requestOrigin, error) {
	if h.origin != "" {
		return requestOrigin{value: h.origin, trusted: true}, nil
	}

	origin := RequestOrigin(r, h.trustProxy)
	if h.allowedHosts == nil {
		return requestOrigin{value: origin}, nil
	}
	if !h.hostAllowed(r.Host) {
		return requestOrigin{}, fmt.Errorf("%w: %q", ErrUnknownHost, r.Host)
	}
	return requestOrigin{value: origin, trusted: true}, nil
}

func (h *Handler) hostAllowed(host string) bool {
	host = strings.ToLower(host)
	if h.allowedHosts[host] {
		return true
	}
	if name, _, err := net.SplitHostPort(host); err == nil {
		return h.allowedHosts[name]
	}
	return false
}

// RequestOrigin derives scheme://host from r. X-Forwarded-Proto is only
// consulted when trustProxy is set.
func RequestOrigin(r *http.Request, trustProxy bool) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if trustProxy {
		switch proto := strings.ToLower(strings.TrimSpace(strings.Split(r.Header.Get("X-Forwarded-Proto"), ",")[0])); proto {
		case "http", "https":
			scheme = proto
		}
	}
	return scheme + "://" + r.Host
}
