package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/wolfeidau/random-file/backend"
	"github.com/wolfeidau/random-file/catalog"
	"github.com/wolfeidau/random-file/credentials"
	"github.com/wolfeidau/random-file/credentials/opprovider"
	"github.com/wolfeidau/random-file/listcache"
	"github.com/wolfeidau/random-file/server"
	"github.com/wolfeidau/random-file/telemetry"
)

// ServeCmd runs the HTTP server.
type ServeCmd struct {
	Address      string `help:"Address to listen on." default:":8080" env:"ADDRESS"`
	AllowRandom  bool   `help:"Enable the random endpoints." env:"ALLOW_RANDOM"`
	PublicOrigin string `help:"Public scheme://host used for absolute URLs and cache keys. Derived from requests when empty." env:"PUBLIC_ORIGIN"`

	AllowedHosts      []string `help:"Host headers accepted by the random endpoints. Others get 421." env:"ALLOWED_HOSTS"`
	TrustProxyHeaders bool     `help:"Honour X-Forwarded-Proto from a fronting proxy." env:"TRUST_PROXY_HEADERS"`

	Catalog       string `help:"Catalog store." enum:"none,kv,bolt" default:"kv" env:"CATALOG"`
	KVAccountID   string `name:"kv-account-id" help:"Cloudflare account ID." env:"KV_ACCOUNT_ID"`
	KVNamespaceID string `name:"kv-namespace-id" help:"Workers KV namespace ID." env:"KV_NAMESPACE_ID"`
	KVAPIToken    string `name:"kv-api-token" help:"Cloudflare API token with KV read access." env:"KV_API_TOKEN"`
	KVAPIURL      string `name:"kv-api-url" help:"Cloudflare API base URL." default:"${kv_api_url}" env:"KV_API_URL"`
	CatalogPath   string `help:"Path of the bolt catalog." default:"./catalog.db" env:"CATALOG_PATH"`

	ListingCache     string        `help:"Listing cache backend." enum:"none,memory,bolt,redis" default:"memory" env:"LISTING_CACHE"`
	ListingCachePath string        `help:"Path of the bolt listing cache." default:"./listings.db" env:"LISTING_CACHE_PATH"`
	RedisURL         string        `help:"Redis URL for the listing cache." env:"REDIS_URL"`
	CompressListings bool          `help:"Store listings in compressed, checksummed envelopes." default:"true" negatable:"" env:"COMPRESS_LISTINGS"`
	CoalesceRebuilds bool          `help:"Share one catalog traversal between concurrent cache misses." env:"COALESCE_REBUILDS"`
	AsyncCacheWrites bool          `help:"Write listings to the cache in the background." env:"ASYNC_CACHE_WRITES"`
	ReapInterval     time.Duration `help:"How often expired bolt listings are purged." default:"5m" env:"REAP_INTERVAL"`

	Files             string        `help:"File storage backend." enum:"none,fs,s3" default:"none" env:"FILES"`
	FilesPath         string        `help:"Directory served under /file/." default:"./files" env:"FILES_PATH"`
	S3Bucket          string        `name:"s3-bucket" help:"S3 bucket holding the files." env:"S3_BUCKET"`
	S3Prefix          string        `name:"s3-prefix" help:"Key prefix inside the bucket." env:"S3_PREFIX"`
	S3Region          string        `name:"s3-region" help:"S3 region." env:"S3_REGION,AWS_REGION"`
	S3Endpoint        string        `name:"s3-endpoint" help:"Endpoint for S3 compatible stores." env:"S3_ENDPOINT"`
	S3PathStyle       bool          `name:"s3-path-style" help:"Use path style addressing." env:"S3_PATH_STYLE"`
	S3AccessKeyID     string        `name:"s3-access-key-id" help:"Static S3 access key." env:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string        `name:"s3-secret-access-key" help:"Static S3 secret key." env:"S3_SECRET_ACCESS_KEY"`
	ImageFetchTimeout time.Duration `help:"Timeout for type=img fetches." default:"30s" env:"IMAGE_FETCH_TIMEOUT"`

	CredentialsFile    string `help:"Credentials template resolved at startup." type:"existingfile" env:"CREDENTIALS_FILE"`
	OnePasswordAccount string `name:"op-account" help:"1Password account used by op references in the credentials file." env:"OP_ACCOUNT"`

	OTLPEndpoint    string        `name:"otlp-endpoint" help:"OTLP gRPC metrics endpoint." env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Prometheus      bool          `help:"Expose Prometheus metrics at /metrics." env:"PROMETHEUS"`
	ShutdownTimeout time.Duration `help:"Graceful shutdown timeout." default:"10s" env:"SHUTDOWN_TIMEOUT"`
}

// Run starts the server and blocks until ctx is cancelled.
func (c *ServeCmd) Run(ctx context.Context, logger *slog.Logger) error {
	if err := c.applyCredentials(ctx, logger); err != nil {
		return err
	}

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "random-file",
		ServiceVersion:   version,
		OTLPEndpoint:     c.OTLPEndpoint,
		EnablePrometheus: c.Prometheus,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer func() { _ = shutdownMetrics(context.Background()) }()

	var closers []io.Closer
	defer func() { closeAll(closers) }()

	store, closer, err := c.openCatalog(logger)
	if err != nil {
		return err
	}
	if closer != nil {
		closers = append(closers, closer)
	}

	cache, reaper, cacheClosers, err := c.openListingCache(ctx, logger)
	closers = append(closers, cacheClosers...)
	if err != nil {
		return err
	}

	files, closer, err := c.openFiles(ctx)
	if err != nil {
		return err
	}
	if closer != nil {
		closers = append(closers, closer)
	}

	srv, err := server.New(server.Config{
		Address:           c.Address,
		AllowRandom:       c.AllowRandom,
		PublicOrigin:      c.PublicOrigin,
		AllowedHosts:      c.AllowedHosts,
		TrustProxyHeaders: c.TrustProxyHeaders,
		Catalog:           store,
		ListingCache:      cache,
		Reaper:            reaper,
		Files:             files,
		CoalesceRebuilds:  c.CoalesceRebuilds,
		AsyncCacheWrites:  c.AsyncCacheWrites,
		ImageFetchTimeout: c.ImageFetchTimeout,
		Version:           version,
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("server started",
		"address", srv.Address(),
		"random_url", fmt.Sprintf("http://localhost%s/random", srv.Address()),
	)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// applyCredentials overlays secrets from the credentials template onto flags.
func (c *ServeCmd) applyCredentials(ctx context.Context, logger *slog.Logger) error {
	if c.CredentialsFile == "" {
		return nil
	}

	var opOpts []opprovider.Option
	if c.OnePasswordAccount != "" {
		opOpts = append(opOpts, opprovider.WithAccount(c.OnePasswordAccount))
	}
	resolver := credentials.NewResolver(
		credentials.WithLogger(logger.With("component", "credentials")),
		opprovider.WithOnePassword(opOpts...),
	)

	creds, err := resolver.ResolveFile(ctx, c.CredentialsFile)
	if err != nil {
		return fmt.Errorf("resolving credentials: %w", err)
	}

	if creds.KV != nil {
		c.KVAccountID = creds.KV.AccountID
		c.KVNamespaceID = creds.KV.NamespaceID
		c.KVAPIToken = creds.KV.APIToken
	}
	if creds.Redis != nil {
		c.RedisURL = creds.Redis.URL
	}
	if creds.S3 != nil {
		c.S3AccessKeyID = creds.S3.AccessKeyID
		c.S3SecretAccessKey = creds.S3.SecretAccessKey
	}
	return nil
}

func (c *ServeCmd) openCatalog(logger *slog.Logger) (catalog.Store, io.Closer, error) {
	switch c.Catalog {
	case "kv":
		if c.KVAccountID == "" || c.KVNamespaceID == "" {
			logger.Warn("kv catalog selected without account or namespace, random requests will fail")
			return nil, nil, nil
		}
		kv := catalog.NewKV(c.KVAccountID, c.KVNamespaceID,
			catalog.WithAPIURL(c.KVAPIURL),
			catalog.WithAPIToken(c.KVAPIToken),
		)
		return catalog.NewInstrumented(kv, "kv"), nil, nil
	case "bolt":
		db, err := catalog.OpenBolt(c.CatalogPath, catalog.WithBoltLogger(logger.With("component", "catalog")))
		if err != nil {
			return nil, nil, err
		}
		return catalog.NewInstrumented(db, "bolt"), db, nil
	default:
		return nil, nil, nil
	}
}

func (c *ServeCmd) openListingCache(ctx context.Context, logger *slog.Logger) (listcache.Cache, *listcache.ExpiryReaper, []io.Closer, error) {
	var (
		cache   listcache.Cache
		reaper  *listcache.ExpiryReaper
		closers []io.Closer
	)

	switch c.ListingCache {
	case "memory":
		cache = listcache.NewMemory()
	case "bolt":
		db, err := listcache.OpenBolt(c.ListingCachePath, listcache.WithBoltLogger(logger.With("component", "listcache")))
		if err != nil {
			return nil, nil, nil, err
		}
		closers = append(closers, db)
		cache = db
		reaper = listcache.NewExpiryReaper(db,
			listcache.WithReaperInterval(c.ReapInterval),
			listcache.WithReaperLogger(logger.With("component", "reaper")),
		)
	case "redis":
		rdb, err := listcache.DialRedis(ctx, c.RedisURL)
		if err != nil {
			return nil, nil, nil, err
		}
		closers = append(closers, rdb)
		cache = rdb
	default:
		return nil, nil, nil, nil
	}

	if c.CompressListings {
		enc, err := newEncodedCache(cache)
		if err != nil {
			closeAll(closers)
			return nil, nil, nil, fmt.Errorf("creating listing envelope: %w", err)
		}
		closers = append(closers, closerFunc(func() error { enc.Close(); return nil }))
		cache = enc
	}

	return listcache.NewInstrumented(cache, c.ListingCache), reaper, closers, nil
}

func (c *ServeCmd) openFiles(ctx context.Context) (backend.Backend, io.Closer, error) {
	switch c.Files {
	case "fs":
		fs, err := backend.NewFilesystem(c.FilesPath)
		if err != nil {
			return nil, nil, fmt.Errorf("creating filesystem backend: %w", err)
		}
		return backend.NewInstrumentedBackend(fs, "filesystem"), fs, nil
	case "s3":
		s3b, err := backend.NewS3(ctx, backend.S3Config{
			Bucket:          c.S3Bucket,
			Prefix:          c.S3Prefix,
			Region:          c.S3Region,
			Endpoint:        c.S3Endpoint,
			UsePathStyle:    c.S3PathStyle,
			AccessKeyID:     c.S3AccessKeyID,
			SecretAccessKey: c.S3SecretAccessKey,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("creating s3 backend: %w", err)
		}
		return backend.NewInstrumentedBackend(s3b, "s3"), nil, nil
	default:
		return nil, nil, nil
	}
}

// newEncodedCache is replaced in tests.
var newEncodedCache = listcache.NewEncoded

// closeAll closes in reverse order of opening.
func closeAll(closers []io.Closer) {
	for i := len(closers) - 1; i >= 0; i-- {
		_ = closers[i].Close()
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
