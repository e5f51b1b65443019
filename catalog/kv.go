package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wolfeidau/random-file/telemetry"
)

const (
	// DefaultAPIURL is the Cloudflare v4 API base URL.
	DefaultAPIURL = "https://api.cloudflare.com/client/v4"

	// DefaultTimeout is the default timeout for list requests.
	DefaultTimeout = 30 * time.Second

	// maxErrorBody caps how much of an error response is read into messages.
	maxErrorBody = 4096
)

// KV lists keys from a Cloudflare Workers KV namespace over the REST API.
type KV struct {
	baseURL     string
	accountID   string
	namespaceID string
	token       string
	client      *http.Client
}

// KVOption configures a KV store.
type KVOption func(*KV)

// WithAPIURL sets the API base URL.
func WithAPIURL(u string) KVOption {
	return func(k *KV) {
		k.baseURL = strings.TrimSuffix(u, "/")
	}
}

// WithAPIToken sets the bearer token used for API requests.
func WithAPIToken(token string) KVOption {
	return func(k *KV) {
		k.token = token
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) KVOption {
	return func(k *KV) {
		k.client = client
	}
}

// NewKV creates a KV catalog store for the given account and namespace.
func NewKV(accountID, namespaceID string, opts ...KVOption) *KV {
	k := &KV{
		baseURL:     DefaultAPIURL,
		accountID:   accountID,
		namespaceID: namespaceID,
		client: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: telemetry.NewInstrumentedTransport(nil, "kv"),
		},
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// kvListResponse is the envelope returned by the list keys endpoint.
type kvListResponse struct {
	Success    bool      `json:"success"`
	Errors     []kvError `json:"errors"`
	Result     []Key     `json:"result"`
	ResultInfo struct {
		Count  int    `json:"count"`
		Cursor string `json:"cursor"`
	} `json:"result_info"`
}

type kvError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// List implements Store.
func (k *KV) List(ctx context.Context, cursor string, limit int) (*Page, error) {
	if limit <= 0 || limit > DefaultPageLimit {
		limit = DefaultPageLimit
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	reqURL := fmt.Sprintf("%s/accounts/%s/storage/kv/namespaces/%s/keys?%s",
		k.baseURL, url.PathEscape(k.accountID), url.PathEscape(k.namespaceID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if k.token != "" {
		req.Header.Set("Authorization", "Bearer "+k.token)
	}

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("kv list returned %d: %s", resp.StatusCode, describeKVError(body))
	}

	var out kvListResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding list response: %w", err)
	}
	if !out.Success {
		return nil, errors.New("kv list failed: " + joinKVErrors(out.Errors))
	}

	return &Page{Keys: out.Result, Cursor: out.ResultInfo.Cursor}, nil
}

// describeKVError extracts API error messages from a failed response body,
// falling back to the raw body when it is not an API envelope.
func describeKVError(body []byte) string {
	var out kvListResponse
	if err := json.Unmarshal(body, &out); err == nil && len(out.Errors) > 0 {
		return joinKVErrors(out.Errors)
	}
	return strings.TrimSpace(string(body))
}

func joinKVErrors(errs []kvError) string {
	if len(errs) == 0 {
		return "unknown error"
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, fmt.Sprintf("%d: %s", e.Code, e.Message))
	}
	return strings.Join(msgs, "; ")
}
