// Package backend talks to the hosted Postgres-as-a-service backend: named
// RPC functions, direct table queries, bulk inserts and password auth.
package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultRefreshTimeout = 120 * time.Second
	maxResponseBytes      = 32 << 20
	maxErrorResponseBytes = 32 << 10
)

// Config holds backend endpoint configuration.
type Config struct {
	URL            string
	AnonKey        string
	ServiceKey     string
	Timeout        time.Duration
	RefreshTimeout time.Duration
}

// Observer receives one notification per backend round trip.
type Observer interface {
	ObserveBackendCall(function, outcome string, elapsed time.Duration)
}

// Client performs requests against the backend REST and auth endpoints.
type Client struct {
	cfg         Config
	restURL     string
	authURL     string
	http        *http.Client
	logger      *slog.Logger
	observer    Observer
	serviceRole bool
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger attaches a logger used for fallback and failure diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithObserver attaches a call observer, typically Prometheus metrics.
func WithObserver(obs Observer) Option {
	return func(c *Client) { c.observer = obs }
}

// New validates cfg and builds a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, errors.New("backend: url is required")
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("backend: invalid url %q", cfg.URL)
	}
	if cfg.AnonKey == "" {
		return nil, errors.New("backend: anon key is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = defaultRefreshTimeout
	}
	cfg.URL = base

	transport := http.DefaultTransport
	if tr, ok := http.DefaultTransport.(*http.Transport); ok {
		cloned := tr.Clone()
		cloned.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		transport = cloned
	}
	c := &Client{
		cfg:     cfg,
		restURL: base + "/rest/v1",
		authURL: base + "/auth/v1",
		http:    &http.Client{Transport: transport},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Service returns a copy of the client that authenticates with the service
// key. Without a configured service key the copy falls back to the anon key.
func (c *Client) Service() *Client {
	clone := *c
	clone.serviceRole = true
	return &clone
}

// Timeout returns the default per-call timeout.
func (c *Client) Timeout() time.Duration {
	return c.cfg.Timeout
}

// RefreshTimeout returns the timeout for long maintenance functions.
func (c *Client) RefreshTimeout() time.Duration {
	return c.cfg.RefreshTimeout
}

type accessTokenKey struct{}

// ContextWithAccessToken makes subsequent calls run as the signed-in user.
func ContextWithAccessToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, accessTokenKey{}, token)
}

// AccessTokenFromContext returns the user token attached to ctx.
func AccessTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(accessTokenKey{}).(string)
	return token
}

type serviceRoleKey struct{}

// ContextWithServiceRole makes subsequent calls authenticate with the service
// key, for background work that has no signed-in user.
func ContextWithServiceRole(ctx context.Context) context.Context {
	return context.WithValue(ctx, serviceRoleKey{}, true)
}

func (c *Client) bearer(ctx context.Context) string {
	service, _ := ctx.Value(serviceRoleKey{}).(bool)
	if (c.serviceRole || service) && c.cfg.ServiceKey != "" {
		return c.cfg.ServiceKey
	}
	if token := AccessTokenFromContext(ctx); token != "" {
		return token
	}
	return c.cfg.AnonKey
}

type request struct {
	method  string
	url     string
	body    []byte
	headers map[string]string
	bearer  string
}

// do executes the request and returns the body of a successful response. A
// status >= 400 is decoded into *Error.
func (c *Client) do(ctx context.Context, req request) ([]byte, error) {
	var reader io.Reader
	if req.body != nil {
		reader = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, reader)
	if err != nil {
		return nil, fmt.Errorf("backend: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("apikey", c.cfg.AnonKey)
	bearer := req.bearer
	if bearer == "" {
		bearer = c.bearer(ctx)
	}
	httpReq.Header.Set("Authorization", "Bearer "+bearer)
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("backend: %s %s: %w", req.method, req.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorResponseBytes))
		return nil, parseError(payload, resp.StatusCode)
	}
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("backend: read response: %w", err)
	}
	if len(payload) > maxResponseBytes {
		return nil, fmt.Errorf("backend: response exceeds %d bytes", maxResponseBytes)
	}
	return payload, nil
}

func (c *Client) observe(function string, err error, start time.Time) {
	if c.observer == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case IsTimeout(err):
		outcome = "timeout"
	case IsNotFound(err):
		outcome = "not_found"
	case IsBadRequest(err):
		outcome = "bad_request"
	default:
		outcome = "error"
	}
	c.observer.ObserveBackendCall(function, outcome, time.Since(start))
}

func (c *Client) logWarn(msg string, attrs ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, attrs...)
	}
}
