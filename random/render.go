package random

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	randomfile "github.com/wolfeidau/random-file"
)

// Mode selects what a successful pick returns.
type Mode string

const (
	// ModePath returns the relative file path.
	ModePath Mode = ""
	// ModeURL returns the absolute file URL.
	ModeURL Mode = "url"
	// ModeImage streams the file itself.
	ModeImage Mode = "img"
)

// Options controls response rendering.
type Options struct {
	Mode Mode
	Text bool // plain text instead of JSON
}

// ParseOptions reads the type and form query parameters. Unknown values fall
// back to the defaults.
func ParseOptions(q url.Values) Options {
	opts := Options{Text: q.Get("form") == "text"}
	switch Mode(q.Get("type")) {
	case ModeURL:
		opts.Mode = ModeURL
	case ModeImage:
		opts.Mode = ModeImage
	}
	return opts
}

// Selection is the chosen entry along with its derived locations.
type Selection struct {
	Entry randomfile.Entry
	Path  string
	URL   string

	// FetchURL is where ModeImage fetches the file when no FileSource is
	// configured. Empty when the origin came from an unchecked Host header.
	FetchURL string
}

// NewSelection derives the path and absolute URL of entry under origin.
func NewSelection(origin string, entry randomfile.Entry) *Selection {
	path := entry.Path()
	return &Selection{
		Entry:    entry,
		Path:     path,
		URL:      origin + path,
		FetchURL: origin + path,
	}
}

// Renderer writes a selection to the response in the requested shape.
type Renderer struct {
	fetcher *Fetcher
	files   FileSource
	logger  *slog.Logger
}

// RendererOption configures a Renderer.
type RendererOption func(*Renderer)

// WithFileSource makes ModeImage read files in-process. It takes
// precedence over the fetcher.
func WithFileSource(files FileSource) RendererOption {
	return func(rd *Renderer) {
		rd.files = files
	}
}

// NewRenderer creates a renderer. fetcher is used for ModeImage when no
// FileSource is set.
func NewRenderer(fetcher *Fetcher, logger *slog.Logger, opts ...RendererOption) *Renderer {
	if fetcher == nil {
		fetcher = NewFetcher()
	}
	if logger == nil {
		logger = slog.Default()
	}
	rd := &Renderer{fetcher: fetcher, logger: logger}
	for _, opt := range opts {
		opt(rd)
	}
	return rd
}

// Render writes sel according to opts. A nil sel renders an empty JSON
// object whatever the options.
func (rd *Renderer) Render(w http.ResponseWriter, r *http.Request, sel *Selection, opts Options) {
	w.Header().Set("Cache-Control", "no-store")

	if sel == nil {
		writeJSON(w, struct{}{})
		return
	}

	if opts.Mode == ModeImage {
		rd.proxy(w, r, sel)
		return
	}

	payload := sel.Path
	if opts.Mode == ModeURL {
		payload = sel.URL
	}

	if opts.Text {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, payload)
		return
	}

	writeJSON(w, map[string]string{"url": payload})
}

func (rd *Renderer) proxy(w http.ResponseWriter, r *http.Request, sel *Selection) {
	res, err := rd.open(r.Context(), sel)
	if err != nil {
		writeError(w, rd.logger, err)
		return
	}
	defer func() { _ = res.Body.Close() }()

	w.Header().Set("Content-Type", res.ContentType)
	if res.ContentLength >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(res.ContentLength, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, res.Body); err != nil {
		rd.logger.Error("failed to stream file", "name", sel.Entry.Name, "error", err)
	}
}

func (rd *Renderer) open(ctx context.Context, sel *Selection) (*FetchResult, error) {
	switch {
	case rd.files != nil:
		return rd.files.Open(ctx, sel.Entry.Name)
	case sel.FetchURL != "":
		return rd.fetcher.Fetch(ctx, sel.FetchURL)
	default:
		return nil, fmt.Errorf("%w: no trusted origin to fetch %s from", ErrUpstreamUnavailable, sel.Path)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
