package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/wolfeidau/random-file/backend"
	"github.com/wolfeidau/random-file/random"
	"github.com/wolfeidau/random-file/telemetry"
)

// backendFiles lets type=img read straight from the storage backend.
type backendFiles struct {
	backend backend.Backend
}

func (f backendFiles) Open(ctx context.Context, name string) (*random.FetchResult, error) {
	rc, info, err := f.backend.Read(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", random.ErrUpstreamUnavailable, name, err)
	}

	res := &random.FetchResult{Body: rc, ContentType: info.ContentType, ContentLength: -1}
	if info.Size > 0 {
		res.ContentLength = info.Size
	}
	if res.ContentType == "" {
		res.ContentType = random.DefaultImageContentType
	}
	return res, nil
}

// fileHandler serves catalog files from a storage backend.
type fileHandler struct {
	backend backend.Backend
	logger  *slog.Logger
}

func newFileHandler(b backend.Backend, logger *slog.Logger) *fileHandler {
	return &fileHandler{backend: b, logger: logger}
}

func (h *fileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "file")
	telemetry.SetCacheResult(r, telemetry.CacheNA)

	name := r.PathValue("name")
	if h.backend == nil || name == "" {
		http.NotFound(w, r)
		return
	}

	if r.Method == http.MethodHead {
		info, err := h.backend.Stat(r.Context(), name)
		if err != nil {
			h.writeError(w, r, name, err)
			return
		}
		writeFileHeaders(w, info)
		return
	}

	rc, info, err := h.backend.Read(r.Context(), name)
	if err != nil {
		h.writeError(w, r, name, err)
		return
	}
	defer func() { _ = rc.Close() }()

	writeFileHeaders(w, info)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Error("failed to stream file", "name", name, "error", err)
	}
}

func (h *fileHandler) writeError(w http.ResponseWriter, r *http.Request, name string, err error) {
	if errors.Is(err, backend.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	h.logger.Error("failed to read file", "name", name, "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeFileHeaders(w http.ResponseWriter, info *backend.ObjectInfo) {
	w.Header().Set("Content-Type", info.ContentType)
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	if !info.LastModified.IsZero() {
		w.Header().Set("Last-Modified", info.LastModified.UTC().Format(http.TimeFormat))
	}
}
