package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"golang.org/x/time/rate"
)

// Common errors.
var (
	ErrStatus       = errors.New("http: unexpected status")
	ErrTransport    = errors.New("http: transport failure")
	ErrBodyTooLarge = errors.New("http: response body exceeds limit")
)

// StatusError is returned when the server answers with anything but 200.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s", ErrStatus.Error(), e.Status)
}

func (e *StatusError) Unwrap() error { return ErrStatus }

// TransportError wraps connection, DNS, timeout and body read failures.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", ErrTransport.Error(), e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

// Options configures the HTTP client.
type Options struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 10
	MaxIdleConnsPerHost int

	// Timeout for individual requests.
	// Default: 30s
	Timeout time.Duration

	// RateLimit caps requests per second across all callers. Zero disables it.
	RateLimit float64

	// RateBurst is the limiter bucket size.
	// Default: 1
	RateBurst int

	// MaxResponseSize caps the body size read from a single response.
	// Default: 256MiB
	MaxResponseSize int64
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost: 10,
		Timeout:             30 * time.Second,
		RateBurst:           1,
		MaxResponseSize:     256 * 1024 * 1024,
	}
}

// Request describes one report POST.
type Request struct {
	URL     string
	Query   url.Values
	Headers map[string]string
	Cookies map[string]string
}

// Response is a fully read 200 response.
type Response struct {
	Body        []byte
	ContentType string
	StatusCode  int
}

// Client issues single report requests. Retries are the caller's concern.
// It is safe for concurrent use.
type Client struct {
	client  *http.Client
	limiter *rate.Limiter
	opts    Options
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) *Client {
	def := DefaultOptions()
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = def.MaxIdleConnsPerHost
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = def.RateBurst
	}
	if opts.MaxResponseSize <= 0 {
		opts.MaxResponseSize = def.MaxResponseSize
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:     90 * time.Second,
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst)
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		limiter: limiter,
		opts:    opts,
	}
}

// Post performs one POST and returns the body when the status is exactly 200.
// Non-200 answers yield a *StatusError; everything else on the wire yields a
// *TransportError.
func (c *Client) Post(ctx context.Context, r Request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Err: fmt.Errorf("rate limit wait: %w", err)}
		}
	}

	req, err := newRequest(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain a little so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxResponseSize+1))
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > c.opts.MaxResponseSize {
		return nil, &TransportError{Err: fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, c.opts.MaxResponseSize)}
	}

	return &Response{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
	}, nil
}

// newRequest builds the POST with query, headers and cookies applied.
// Map keys are applied in sorted order so requests are reproducible.
func newRequest(ctx context.Context, r Request) (*http.Request, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return nil, err
	}
	if len(r.Query) > 0 {
		q := u.Query()
		for k, vs := range r.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return nil, err
	}

	for _, k := range sortedKeys(r.Headers) {
		req.Header.Set(k, r.Headers[k])
	}
	for _, k := range sortedKeys(r.Cookies) {
		req.AddCookie(&http.Cookie{Name: k, Value: r.Cookies[k]})
	}
	return req, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
