package httpclient

import (
	"context"
	"net/http"
	"time"
)

// ClientType selects the header profile applied to outgoing requests.
type ClientType string

const (
	// APIClient talks to the JSON random-poem endpoint. The endpoint expects an
	// identifying User-Agent and must never serve a cached poem.
	APIClient ClientType = "api"

	// FeedClient fetches RSS/Atom fallback feeds. Some feed hosts reject
	// non-browser agents with 406.
	FeedClient ClientType = "feed"
)

const defaultClientID = "Persian Poetry App"

// HTTPClient wraps an http.Client with a header profile.
type HTTPClient struct {
	client     *http.Client
	clientType ClientType
	clientID   string
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithClientID overrides the User-Agent sent by APIClient.
func WithClientID(id string) Option {
	return func(c *HTTPClient) {
		if id != "" {
			c.clientID = id
		}
	}
}

// WithTransport replaces the underlying round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *HTTPClient) { c.client.Transport = rt }
}

// WithTimeout sets an overall client timeout. Per-request deadlines are
// normally carried by the request context instead.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) { c.client.Timeout = d }
}

// NewClient creates a new HTTP client with the specified type
func NewClient(clientType ClientType, opts ...Option) *HTTPClient {
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	c := &HTTPClient{
		client:     client,
		clientType: clientType,
		clientID:   defaultClientID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do executes an HTTP request with the headers of the client's profile.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	c.setHeaders(req)
	return c.client.Do(req)
}

// Get issues a GET bound to ctx.
func (c *HTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	switch c.clientType {
	case APIClient:
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.clientID)
		req.Header.Set("Cache-Control", "no-cache")

	case FeedClient:
		req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")
		req.Header.Set("Accept", "application/rss+xml,application/atom+xml,application/xml;q=0.9,*/*;q=0.8")
		req.Header.Set("Accept-Language", "fa-IR,fa;q=0.9,en;q=0.8")

	default:
	}
}
