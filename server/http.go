// Package server provides the HTTP server for the random file service.
package server

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	randomfile "github.com/wolfeidau/random-file"
	"github.com/wolfeidau/random-file/backend"
	"github.com/wolfeidau/random-file/catalog"
	"github.com/wolfeidau/random-file/listcache"
	"github.com/wolfeidau/random-file/random"
	"github.com/wolfeidau/random-file/telemetry"
)

// Config holds server configuration.
type Config struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// AllowRandom enables the random endpoints. When false they answer 403.
	AllowRandom bool

	// PublicOrigin pins the scheme://host used in cache keys and absolute
	// URLs. Empty derives it from each request.
	PublicOrigin string

	// AllowedHosts, when set, rejects requests for any other Host with 421
	// and lets the accepted hosts scope the listing cache. Without it or a
	// PublicOrigin every request shares one listing.
	AllowedHosts []string

	// TrustProxyHeaders honours X-Forwarded-Proto when deriving the origin.
	TrustProxyHeaders bool

	// Catalog lists the file keys. Nil leaves the service unconfigured and
	// random requests fail with a 500.
	Catalog catalog.Store

	// ListingCache stores filtered listings per origin. Nil disables caching.
	ListingCache listcache.Cache

	// Reaper, when set, is run for the lifetime of the server to purge
	// expired listings.
	Reaper *listcache.ExpiryReaper

	// Files serves /file/{name} and type=img responses. Nil answers 404 for
	// every file, and type=img then fetches from a trusted origin over HTTP.
	Files backend.Backend

	// CoalesceRebuilds shares one catalog traversal between concurrent
	// cache misses for the same origin.
	CoalesceRebuilds bool

	// AsyncCacheWrites moves listing cache writes off the request path.
	AsyncCacheWrites bool

	// ImageFetchTimeout bounds proxied file fetches for type=img.
	// Default: 30 seconds
	ImageFetchTimeout time.Duration

	// Version is reported in the User-Agent of outbound file fetches.
	Version string

	// Logger for the server
	Logger *slog.Logger
}

// Server is the HTTP server for the random file service.
type Server struct {
	config     Config
	httpServer *http.Server
	logger     *slog.Logger
	handler    http.Handler

	aggregator *random.Aggregator
	random     *random.Handler
	files      *fileHandler

	reaperCancel context.CancelFunc
	reaperDone   sync.WaitGroup
}

// New creates a new server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}
	if cfg.ImageFetchTimeout == 0 {
		cfg.ImageFetchTimeout = random.DefaultFetchTimeout
	}
	if cfg.PublicOrigin != "" && !strings.Contains(cfg.PublicOrigin, "://") {
		return nil, fmt.Errorf("public origin %q must include a scheme", cfg.PublicOrigin)
	}

	var agg *random.Aggregator
	if cfg.Catalog != nil {
		agg = random.NewAggregator(cfg.Catalog, cfg.ListingCache,
			random.WithLogger(cfg.Logger.With("component", "aggregator")),
			random.WithCoalescing(cfg.CoalesceRebuilds),
			random.WithAsyncCacheWrites(cfg.AsyncCacheWrites),
		)
	}

	fetcher := random.NewFetcher(random.WithHTTPClient(&http.Client{
		Timeout:   cfg.ImageFetchTimeout,
		Transport: telemetry.NewInstrumentedTransport(nil, "image", telemetry.WithUserAgent(userAgent(cfg.Version))),
	}))

	handlerOpts := []random.HandlerOption{
		random.WithEnabled(cfg.AllowRandom),
		random.WithFetcher(fetcher),
		random.WithHandlerLogger(cfg.Logger.With("component", "random")),
	}
	if cfg.PublicOrigin != "" {
		handlerOpts = append(handlerOpts, random.WithOrigin(cfg.PublicOrigin))
	}
	if len(cfg.AllowedHosts) > 0 {
		handlerOpts = append(handlerOpts, random.WithAllowedHosts(cfg.AllowedHosts...))
	}
	if cfg.TrustProxyHeaders {
		handlerOpts = append(handlerOpts, random.WithTrustProxyHeaders(true))
	}
	if cfg.Files != nil {
		handlerOpts = append(handlerOpts, random.WithFiles(backendFiles{cfg.Files}))
	}

	s := &Server{
		config:     cfg,
		logger:     cfg.Logger,
		aggregator: agg,
		random:     random.NewHandler(agg, handlerOpts...),
		files:      newFileHandler(cfg.Files, cfg.Logger.With("component", "files")),
	}

	// Build HTTP server
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.handler = s.loggingMiddleware(mux)

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute, // proxied video files can be large
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Health check
	mux.HandleFunc("GET /health", s.handleHealth)

	// Prometheus metrics endpoint (returns 404 if not enabled)
	mux.Handle("GET /metrics", telemetry.PrometheusHandler())

	// Random selection, also reachable under the API prefix
	mux.Handle("GET /random", s.random)
	mux.Handle("GET /api/random", s.random)

	// Catalog files, the target of type=img fetches
	mux.Handle("GET "+randomfile.FilePathPrefix+"{name...}", s.files)
	mux.Handle("HEAD "+randomfile.FilePathPrefix+"{name...}", s.files)
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Handler returns the root handler including logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// loggingMiddleware logs HTTP requests with structured fields for analysis.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		// Inject request tags so handlers can set cache_result, endpoint, etc.
		r = telemetry.InjectTags(r)
		tags := telemetry.GetTags(r)
		telemetry.SetRoute(r, deriveRoute(r.URL.Path))

		// Wrap response writer to capture status and bytes
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		attrs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"route", tags.Route,

			"status", wrapped.status,
			"status_class", telemetry.StatusClass(wrapped.status),
			"bytes_sent", wrapped.bytesWritten,

			"duration_ms", duration.Milliseconds(),
			"duration", duration.String(),

			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
			"http_version", fmt.Sprintf("%d.%d", r.ProtoMajor, r.ProtoMinor),
		}

		attrs = append(attrs, tags.LogAttrs()...)
		if ct := wrapped.Header().Get("Content-Type"); ct != "" {
			attrs = append(attrs, "content_type", ct)
		}

		s.logger.Info("http request", attrs...)

		telemetry.RecordHTTP(r.Context(), r, wrapped.status, wrapped.bytesWritten, duration)
	})
}

// Start starts the listing reaper, if any, and then serves until shutdown.
func (s *Server) Start() error {
	s.startReaper()

	s.logger.Info("starting server",
		"address", s.config.Address,
		"allow_random", s.config.AllowRandom,
		"catalog_configured", s.config.Catalog != nil,
		"listing_cache", s.config.ListingCache != nil,
	)
	return s.httpServer.ListenAndServe()
}

func (s *Server) startReaper() {
	if s.config.Reaper == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.reaperCancel = cancel
	s.reaperDone.Go(func() {
		s.config.Reaper.Run(ctx)
	})
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	err := s.httpServer.Shutdown(ctx)

	if s.reaperCancel != nil {
		s.reaperCancel()
		s.reaperDone.Wait()
	}
	if s.aggregator != nil {
		s.aggregator.Close()
	}
	return err
}

// Address returns the server's listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// responseWriter wraps http.ResponseWriter to capture the status code and bytes written.
// It preserves http.Flusher and http.Hijacker interfaces for streaming support.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher for streaming responses.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker for connection upgrades.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacking not supported")
}

// Unwrap returns the underlying ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func userAgent(version string) string {
	if version == "" {
		return telemetry.DefaultUserAgent
	}
	return telemetry.DefaultUserAgent + "/" + version
}

// deriveRoute classifies the request path for metrics.
func deriveRoute(path string) string {
	switch {
	case path == "/health" || path == "/metrics":
		return "internal"
	case path == "/random" || path == "/api/random":
		return "random"
	case strings.HasPrefix(path, randomfile.FilePathPrefix):
		return "file"
	default:
		return "unknown"
	}
}
