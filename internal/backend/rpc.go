package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type callOptions struct {
	timeout time.Duration
}

// CallOption adjusts a single RPC invocation.
type CallOption func(*callOptions)

// WithTimeout overrides the default timeout for one call.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func (c *Client) resolve(opts []CallOption) callOptions {
	o := callOptions{timeout: c.cfg.Timeout}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// FallbackFunc is a direct query used when an RPC function is unavailable.
type FallbackFunc func(ctx context.Context) ([]byte, error)

// Call invokes the named backend function with a JSON parameter object and
// returns the raw JSON result. Errors are sanitized: an expired deadline is
// reported as TIMEOUT and missing-function codes as 404.
func (c *Client) Call(ctx context.Context, fn string, params any, opts ...CallOption) ([]byte, error) {
	fn = strings.TrimSpace(fn)
	if fn == "" {
		return nil, errors.New("backend: function name required")
	}
	if params == nil {
		params = map[string]any{}
	}
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("backend: marshal params for %s: %w", fn, err)
	}

	o := c.resolve(opts)
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	payload, err := c.do(callCtx, request{
		method: http.MethodPost,
		url:    c.restURL + "/rpc/" + url.PathEscape(fn),
		body:   body,
	})
	err = c.finish(ctx, callCtx, err)
	c.observe(fn, err, start)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// CallWithFallback runs Call and, when the function is not found, the
// fallback query instead. Other errors are returned unchanged.
func (c *Client) CallWithFallback(ctx context.Context, fn string, params any, fallback FallbackFunc, opts ...CallOption) ([]byte, error) {
	payload, err := c.Call(ctx, fn, params, opts...)
	if err == nil || fallback == nil || !IsNotFound(err) {
		return payload, err
	}
	c.logWarn("backend function unavailable, using fallback", slog.String("function", fn), slog.Any("error", err))

	o := c.resolve(opts)
	fbCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	start := time.Now()
	payload, err = fallback(fbCtx)
	err = c.finish(ctx, fbCtx, err)
	c.observe(fn+":fallback", err, start)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// Insert writes rows into table in a single request.
func (c *Client) Insert(ctx context.Context, table string, rows any, opts ...CallOption) error {
	table = strings.TrimSpace(table)
	if table == "" {
		return errors.New("backend: table required")
	}
	body, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("backend: marshal rows for %s: %w", table, err)
	}
	o := c.resolve(opts)
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	_, err = c.do(callCtx, request{
		method:  http.MethodPost,
		url:     c.restURL + "/" + url.PathEscape(table),
		body:    body,
		headers: map[string]string{"Prefer": "return=minimal"},
	})
	err = c.finish(ctx, callCtx, err)
	c.observe("insert:"+table, err, start)
	return err
}

// finish distinguishes a caller cancellation from our own deadline, then
// sanitizes.
func (c *Client) finish(parent, callCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) && parent.Err() != nil {
		return err
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return Sanitize(context.DeadlineExceeded)
	}
	return Sanitize(err)
}
