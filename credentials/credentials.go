// Package credentials renders a secrets template into the credentials used to
// reach the catalog, listing cache and file storage.
//
// The template is a JSON document processed by text/template with these
// functions available:
//
//	env "NAME"            value of an environment variable, error when unset
//	envDefault "NAME" "x" value of an environment variable or a fallback
//	file "/path"          trimmed contents of a file
//	json                  JSON string encoding, for piping into values
//
// Additional secret providers (for example the 1Password CLI in opprovider)
// register further functions with WithProvider.
package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/template"
)

const (
	// maxInputSize is the maximum size of a credentials template file (1MB).
	maxInputSize = 1 << 20
	// maxOutputSize is the maximum size of rendered template output (1MB).
	maxOutputSize = 1 << 20
)

// Credentials holds all resolved credential values.
type Credentials struct {
	KV    *KVCredentials    `json:"kv,omitempty"`
	Redis *RedisCredentials `json:"redis,omitempty"`
	S3    *S3Credentials    `json:"s3,omitempty"`
}

// KVCredentials identifies and authorizes access to a Workers KV namespace.
type KVCredentials struct {
	AccountID   string `json:"account_id"`
	NamespaceID string `json:"namespace_id"`
	APIToken    string `json:"api_token"`
}

// RedisCredentials holds the listing cache connection string.
type RedisCredentials struct {
	URL string `json:"url"`
}

// S3Credentials holds static keys for the file bucket.
type S3Credentials struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
}

// Validate checks that every present section is complete.
func (c *Credentials) Validate() error {
	var errs []error
	if c.KV != nil {
		if c.KV.AccountID == "" || c.KV.NamespaceID == "" {
			errs = append(errs, errors.New("kv: account_id and namespace_id are required"))
		}
		if c.KV.APIToken == "" {
			errs = append(errs, errors.New("kv: api_token is required"))
		}
	}
	if c.Redis != nil && c.Redis.URL == "" {
		errs = append(errs, errors.New("redis: url is required"))
	}
	if c.S3 != nil && (c.S3.AccessKeyID == "") != (c.S3.SecretAccessKey == "") {
		errs = append(errs, errors.New("s3: access_key_id and secret_access_key must be set together"))
	}
	return errors.Join(errs...)
}

// SecretProvider resolves a secret reference to its value.
type SecretProvider func(ctx context.Context, ref string) (string, error)

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// Resolver executes a template file and parses the result into Credentials.
type Resolver struct {
	providers map[string]SecretProvider
	logger    *slog.Logger
}

// WithLogger sets the logger for the resolver.
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithProvider registers a named secret provider as a template function.
func WithProvider(name string, p SecretProvider) ResolverOption {
	return func(r *Resolver) {
		r.providers[name] = p
	}
}

// NewResolver creates a new credential resolver with the given options.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		providers: make(map[string]SecretProvider),
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveFile reads and resolves a credentials template file.
func (r *Resolver) ResolveFile(ctx context.Context, path string) (*Credentials, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening credentials file: %w", err)
	}
	defer func() { _ = f.Close() }()

	creds, err := r.ResolveReader(ctx, f)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("resolved credentials", "path", path,
		"kv", creds.KV != nil, "redis", creds.Redis != nil, "s3", creds.S3 != nil)
	return creds, nil
}

// ResolveReader resolves a credentials template from a reader.
func (r *Resolver) ResolveReader(ctx context.Context, reader io.Reader) (*Credentials, error) {
	data, err := io.ReadAll(io.LimitReader(reader, maxInputSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading credentials template: %w", err)
	}
	if len(data) > maxInputSize {
		return nil, fmt.Errorf("credentials template exceeds maximum size of %d bytes", maxInputSize)
	}

	rendered, err := r.render(ctx, string(data))
	if err != nil {
		return nil, err
	}

	var creds Credentials
	if err := json.Unmarshal(rendered, &creds); err != nil {
		return nil, fmt.Errorf("invalid credentials JSON after template execution: %w", err)
	}
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("validating credentials: %w", err)
	}
	return &creds, nil
}

func (r *Resolver) render(ctx context.Context, text string) ([]byte, error) {
	// Provider lookups are memoized for the duration of one render.
	seen := make(map[string]string)

	tmpl, err := template.New("credentials").
		Option("missingkey=error").
		Funcs(r.funcMap(ctx, seen)).
		Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parsing credentials template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, nil); err != nil {
		return nil, fmt.Errorf("executing credentials template: %w", err)
	}
	if buf.Len() > maxOutputSize {
		return nil, fmt.Errorf("rendered credentials exceed maximum size of %d bytes", maxOutputSize)
	}
	return buf.Bytes(), nil
}

func (r *Resolver) funcMap(ctx context.Context, seen map[string]string) template.FuncMap {
	fm := template.FuncMap{
		"env":        lookupEnv,
		"envDefault": lookupEnvDefault,
		"file":       readTrimmed,
		"json":       jsonString,
	}
	for name, provider := range r.providers {
		fm[name] = memoize(ctx, name, provider, seen)
	}
	return fm
}

func lookupEnv(key string) (string, error) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("environment variable %q is not set", key)
	}
	return val, nil
}

func lookupEnvDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func readTrimmed(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading file %q: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func jsonString(v string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("JSON encoding value: %w", err)
	}
	return string(b), nil
}

func memoize(ctx context.Context, name string, provider SecretProvider, seen map[string]string) func(string) (string, error) {
	return func(ref string) (string, error) {
		key := name + ":" + ref
		if val, ok := seen[key]; ok {
			return val, nil
		}
		val, err := provider(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("provider %q failed for ref %q: %w", name, ref, err)
		}
		seen[key] = val
		return val, nil
	}
}
