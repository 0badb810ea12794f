// Package registry fetches the public model registry of the AI gateway and
// caches a normalised copy for model pickers.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultURL is the Helicone public model registry endpoint.
const DefaultURL = "https://api.helicone.ai/v1/public/model-registry/models"

const (
	defaultCacheTTL = time.Hour
	defaultTimeout  = 30 * time.Second

	// maxBodyBytes bounds how much of a registry response is read.
	maxBodyBytes = 16 << 20
)

// ErrUnexpectedShape is returned when the registry answers with JSON that has
// neither a top-level nor a nested models list.
var ErrUnexpectedShape = errors.New("unexpected response structure from model registry")

// StatusError reports a non-OK registry response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model registry returned status %d", e.Status)
}

// Client fetches and caches the model registry. All methods are safe for
// concurrent use.
type Client struct {
	url        string
	httpClient *http.Client
	cacheTTL   time.Duration
	timeout    time.Duration
	now        func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	cached  json.RawMessage
	expires time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for registry requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithCacheTTL sets how long a successful response is served from cache.
// Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) {
		c.cacheTTL = ttl
	}
}

// WithTimeout bounds a single registry fetch.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// New creates a registry client for url.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:        url,
		httpClient: http.DefaultClient,
		cacheTTL:   defaultCacheTTL,
		timeout:    defaultTimeout,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Models returns the normalised registry document. Concurrent cache misses
// share a single upstream fetch; failures are never cached.
func (c *Client) Models(ctx context.Context) (json.RawMessage, error) {
	if body, ok := c.fromCache(); ok {
		return body, nil
	}

	v, err, _ := c.group.Do("models", func() (any, error) {
		if body, ok := c.fromCache(); ok {
			return body, nil
		}

		// Detached from the caller so one cancelled request does not fail the
		// others waiting on the same fetch.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		body, err := c.fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		c.store(body)
		return body, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(json.RawMessage), nil
}

func (c *Client) fromCache() (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached == nil || !c.now().Before(c.expires) {
		return nil, false
	}
	return c.cached, true
}

func (c *Client) store(body json.RawMessage) {
	if c.cacheTTL <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cached = body
	c.expires = c.now().Add(c.cacheTTL)
}

func (c *Client) fetch(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating registry request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading registry response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Status: resp.StatusCode, Body: string(body)}
	}

	return normalize(body)
}
