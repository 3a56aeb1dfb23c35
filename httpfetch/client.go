// Package httpfetch implements pool.Client for JSON-over-HTTP lookups.
//
// One *http.Client, and therefore one connection pool, is shared by every
// worker of a run. Responses are classified for the pool: non-2xx statuses
// and undecodable bodies are bad responses, dial and read errors are
// transport errors, and an expired attempt deadline stays a timeout.
package httpfetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/utkarsh5026/fetchpool/pool"
)

const (
	// DefaultMaxBodyBytes caps how much of a response body is read.
	DefaultMaxBodyBytes = 1 << 20
	// DefaultMaxIdleConnsPerHost matches the pool's default worker count.
	DefaultMaxIdleConnsPerHost = pool.DefaultWorkerCount
)

// StatusError reports a non-2xx response.
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("GET %s: status %d", e.URL, e.Code)
	}
	return fmt.Sprintf("GET %s: status %d: %s", e.URL, e.Code, e.Body)
}

// Option configures a Client.
type Option func(*options)

type options struct {
	httpClient   *http.Client
	maxIdle      int
	maxBodyBytes int64
	header       http.Header
	decode       func([]byte, any) error
}

// WithHTTPClient uses c instead of a client built by New. Connection pool
// options are then ignored.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithMaxIdleConnsPerHost sizes the idle connection pool; set it to the
// worker count so every worker can keep a connection alive.
func WithMaxIdleConnsPerHost(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxIdle = n
		}
	}
}

// WithMaxBodyBytes caps the response body size. Larger bodies fail to decode.
func WithMaxBodyBytes(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBodyBytes = n
		}
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) Option {
	return func(o *options) {
		o.header.Add(key, value)
	}
}

// WithDecoder replaces json.Unmarshal for response bodies.
func WithDecoder(fn func(data []byte, v any) error) Option {
	return func(o *options) {
		if fn != nil {
			o.decode = fn
		}
	}
}

// Client fetches V as JSON from the URL built for each item.
type Client[K comparable, V any] struct {
	http         *http.Client
	url          func(K) string
	header       http.Header
	maxBodyBytes int64
	decode       func([]byte, any) error
}

var _ pool.Client[int, struct{}] = (*Client[int, struct{}])(nil)

// New creates a Client. url maps an item to the resource to GET.
//
// Example:
//
//	c := httpfetch.New[int, Person](func(id int) string {
//	    return fmt.Sprintf("%s/people/%d", base, id)
//	}, httpfetch.WithMaxIdleConnsPerHost(workers))
func New[K comparable, V any](url func(K) string, opts ...Option) *Client[K, V] {
	o := &options{
		maxIdle:      DefaultMaxIdleConnsPerHost,
		maxBodyBytes: DefaultMaxBodyBytes,
		header:       make(http.Header),
		decode:       json.Unmarshal,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	hc := o.httpClient
	if hc == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.MaxIdleConnsPerHost = o.maxIdle
		transport.MaxIdleConns = max(transport.MaxIdleConns, o.maxIdle)
		transport.IdleConnTimeout = 90 * time.Second
		hc = &http.Client{Transport: transport}
	}

	return &Client[K, V]{
		http:         hc,
		url:          url,
		header:       o.header,
		maxBodyBytes: o.maxBodyBytes,
		decode:       o.decode,
	}
}

// Fetch performs GET url(item) and decodes the body into V.
func (c *Client[K, V]) Fetch(ctx context.Context, item K) (V, error) {
	var zero V
	url := c.url(item)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return zero, pool.BadResponse(fmt.Errorf("build request for %v: %w", item, err))
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return zero, transportErr(ctx, err)
	}
	defer func() {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, c.maxBodyBytes))
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return zero, transportErr(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return zero, pool.BadResponse(&StatusError{URL: url, Code: resp.StatusCode, Body: snippet(body)})
	}
	if int64(len(body)) > c.maxBodyBytes {
		return zero, pool.BadResponse(fmt.Errorf("GET %s: body exceeds %d bytes", url, c.maxBodyBytes))
	}

	var v V
	if err := c.decode(body, &v); err != nil {
		return zero, pool.BadResponse(fmt.Errorf("GET %s: decode: %w", url, err))
	}
	return v, nil
}

// Close releases idle connections.
func (c *Client[K, V]) Close() {
	c.http.CloseIdleConnections()
}

// transportErr leaves context errors untagged so the pool reports them as
// timeouts or cancellations.
func transportErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return pool.Transport(err)
}

func snippet(b []byte) string {
	const limit = 128
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
