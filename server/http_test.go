package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/random-file/backend"
	"github.com/wolfeidau/random-file/catalog"
	"github.com/wolfeidau/random-file/listcache"
)

type staticStore struct {
	keys []catalog.Key
}

func (s *staticStore) List(_ context.Context, _ string, _ int) (*catalog.Page, error) {
	return &catalog.Page{Keys: s.keys}, nil
}

func testStore() *staticStore {
	return &staticStore{keys: []catalog.Key{
		{Name: "manage@settings", Metadata: &catalog.Metadata{FileType: []string{"image"}}},
		{Name: "konA.jpg", Metadata: &catalog.Metadata{FileType: []string{"image/jpeg"}}},
		{Name: "notes.txt", Metadata: &catalog.Metadata{FileType: []string{"text/plain"}}},
	}}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes())
}

func newTestServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	s, err := New(cfg)
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		require.NoError(t, s.Shutdown(context.Background()))
	})
	return ts
}

func filesBackend(t *testing.T) backend.Backend {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "konA.jpg"), []byte("jpeg-bytes"), 0o644))
	fs, err := backend.NewFilesystem(root)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })
	return fs
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestServerHealth(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp, body := get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestServerRandomRoutes(t *testing.T) {
	ts := newTestServer(t, Config{
		AllowRandom:  true,
		Catalog:      testStore(),
		ListingCache: listcache.NewMemory(),
	})

	for _, path := range []string{"/random", "/api/random"} {
		resp, body := get(t, ts.URL+path)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.JSONEq(t, `{"url":"/file/konA.jpg"}`, string(body), path)
	}

	resp, body := get(t, ts.URL+"/random?type=url&form=text")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, ts.URL+"/file/konA.jpg", string(body))
}

func TestServerRandomDisabled(t *testing.T) {
	ts := newTestServer(t, Config{Catalog: testStore()})

	resp, body := get(t, ts.URL+"/random")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Random is disabled"}`, string(body))
}

func TestServerRandomNotConfigured(t *testing.T) {
	ts := newTestServer(t, Config{AllowRandom: true})

	resp, body := get(t, ts.URL+"/random")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Error: Please configure KV database\n", string(body))
}

func TestServerImageModeReadsBackend(t *testing.T) {
	ts := newTestServer(t, Config{
		AllowRandom:  true,
		Catalog:      testStore(),
		ListingCache: listcache.NewMemory(),
		Files:        filesBackend(t),
	})

	resp, body := get(t, ts.URL+"/random?type=img")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, "jpeg-bytes", string(body))
}

func TestServerImageModeIgnoresForgedHost(t *testing.T) {
	var hits atomic.Int32
	internal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, "internal-only")
	}))
	defer internal.Close()

	for name, files := range map[string]backend.Backend{"no files": nil, "files": filesBackend(t)} {
		t.Run(name, func(t *testing.T) {
			ts := newTestServer(t, Config{
				AllowRandom:  true,
				Catalog:      testStore(),
				ListingCache: listcache.NewMemory(),
				Files:        files,
			})

			req, err := http.NewRequest(http.MethodGet, ts.URL+"/random?type=img", nil)
			require.NoError(t, err)
			req.Host = strings.TrimPrefix(internal.URL, "http://")
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()

			assert.NotContains(t, string(body), "internal-only")
			if files == nil {
				assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
			} else {
				assert.Equal(t, "jpeg-bytes", string(body))
			}
		})
	}
	assert.Equal(t, int32(0), hits.Load())
}

func TestServerAllowedHosts(t *testing.T) {
	ts := newTestServer(t, Config{
		AllowRandom:  true,
		Catalog:      testStore(),
		AllowedHosts: []string{"img.example"},
	})

	resp, _ := get(t, ts.URL+"/random")
	assert.Equal(t, http.StatusMisdirectedRequest, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/random?type=url&form=text", nil)
	require.NoError(t, err)
	req.Host = "img.example"
	req.Header.Set("X-Forwarded-Proto", "https")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://img.example/file/konA.jpg", string(body), "proxy headers are ignored unless trusted")
}

func TestServerFiles(t *testing.T) {
	ts := newTestServer(t, Config{Files: filesBackend(t)})

	resp, body := get(t, ts.URL+"/file/konA.jpg")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "jpeg-bytes", string(body))
	assert.Equal(t, "10", resp.Header.Get("Content-Length"))
	assert.NotEmpty(t, resp.Header.Get("Last-Modified"))

	req, err := http.NewRequest(http.MethodHead, ts.URL+"/file/konA.jpg", nil)
	require.NoError(t, err)
	head, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = head.Body.Close()
	assert.Equal(t, http.StatusOK, head.StatusCode)
	assert.Equal(t, "image/jpeg", head.Header.Get("Content-Type"))

	resp, _ = get(t, ts.URL+"/file/missing.jpg")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerFilesWithoutBackend(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp, _ := get(t, ts.URL+"/file/konA.jpg")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerLogsRequests(t *testing.T) {
	buf := &syncBuffer{}
	logger := slog.New(slog.NewJSONHandler(buf, nil))
	ts := newTestServer(t, Config{
		AllowRandom:  true,
		Catalog:      testStore(),
		ListingCache: listcache.NewMemory(),
		Logger:       logger,
	})

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/random", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	var found bool
	dec := json.NewDecoder(bytes.NewReader(buf.Bytes()))
	for dec.More() {
		var line map[string]any
		require.NoError(t, dec.Decode(&line))
		if line["msg"] != "http request" {
			continue
		}
		found = true
		assert.Equal(t, "req-123", line["request_id"])
		assert.Equal(t, "random", line["route"])
		assert.Equal(t, "random", line["endpoint"])
		assert.Equal(t, "miss", line["cache_result"])
		assert.Equal(t, "path", line["pick_mode"])
		assert.EqualValues(t, 1, line["listing_size"])
		assert.Equal(t, "konA.jpg", line["picked"])
	}
	assert.True(t, found)
}

func TestNewRejectsOriginWithoutScheme(t *testing.T) {
	_, err := New(Config{PublicOrigin: "img.example"})
	require.Error(t, err)
}

func TestDeriveRoute(t *testing.T) {
	assert.Equal(t, "internal", deriveRoute("/health"))
	assert.Equal(t, "internal", deriveRoute("/metrics"))
	assert.Equal(t, "random", deriveRoute("/random"))
	assert.Equal(t, "random", deriveRoute("/api/random"))
	assert.Equal(t, "file", deriveRoute("/file/a.jpg"))
	assert.Equal(t, "unknown", deriveRoute("/other"))
}

func TestUserAgent(t *testing.T) {
	assert.Equal(t, "random-file", userAgent(""))
	assert.Equal(t, "random-file/1.0.0", userAgent("1.0.0"))
}
