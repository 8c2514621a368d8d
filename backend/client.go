// Package backend talks to the hosted backend: the PostgREST table API through
// postgrest-go and the auth API through gotrue-go. It maps rows to domain
// models explicitly and reports failures as *Error.
package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"github.com/supabase-community/gotrue-go"
	"github.com/supabase-community/postgrest-go"
)

const defaultTimeout = 30 * time.Second

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "bunnyup_backend_request_duration_seconds",
	Help:    "Duration of requests to the hosted backend, by resource and status",
	Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
}, []string{"method", "resource", "status"})

// Uploader stores a local file under folder and returns the URL it is served
// from
type Uploader interface {
	Upload(ctx context.Context, folder, localPath string) (string, error)
}

type Option func(*Client)

// WithHTTPClient sets the transport and timeout every request goes through
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithUploader sets the object store post media is uploaded to
func WithUploader(u Uploader) Option {
	return func(c *Client) { c.uploader = u }
}

// Client is safe for concurrent use. Requests run with the anon key until an
// access token is set.
type Client struct {
	baseURL  *url.URL
	anonKey  string
	http     *http.Client
	auth     gotrue.Client
	uploader Uploader

	mu          sync.RWMutex
	accessToken string
}

func New(baseURL, anonKey string, opts ...Option) (*Client, error) {
	if baseURL == "" || anonKey == "" {
		return nil, fmt.Errorf("backend url and anon key are required")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}

	c := &Client{
		baseURL: u,
		anonKey: anonKey,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.auth = gotrue.New("", anonKey).WithCustomGoTrueURL(u.JoinPath("auth", "v1").String())
	return c, nil
}

// BaseURL is the root of the hosted project
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

func (c *Client) AnonKey() string {
	return c.anonKey
}

// SetAccessToken makes later requests act as the signed in user. An empty
// token falls back to the anon key.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// AccessToken returns the token requests are authorised with
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.accessToken == "" {
		return c.anonKey
	}
	return c.accessToken
}

// rest returns a PostgREST client for one call. Its requests carry ctx and
// are reported under resource.
func (c *Client) rest(ctx context.Context, resource string) *postgrest.Client {
	pg := postgrest.NewClient(c.baseURL.JoinPath("rest", "v1").String(), "public", map[string]string{
		"apikey":        c.anonKey,
		"Authorization": "Bearer " + c.AccessToken(),
	})
	pg.Transport.Parent = c.roundTripper(ctx, resource)
	return pg
}

// authClient returns the auth API client for one call, authorised with token
// when it is not empty
func (c *Client) authClient(ctx context.Context, resource, token string) gotrue.Client {
	auth := c.auth.WithClient(http.Client{
		Transport: c.roundTripper(ctx, resource),
		Timeout:   c.timeout(),
	})
	if token != "" {
		auth = auth.WithToken(token)
	}
	return auth
}

func (c *Client) timeout() time.Duration {
	if c.http.Timeout > 0 {
		return c.http.Timeout
	}
	return defaultTimeout
}

func (c *Client) roundTripper(ctx context.Context, resource string) *roundTripper {
	base := c.http.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &roundTripper{ctx: ctx, base: base, resource: resource, timeout: c.timeout()}
}

// roundTripper sits under the SDK clients. It binds requests to the caller's
// context, records request metrics and turns error responses into *Error.
type roundTripper struct {
	ctx      context.Context
	base     http.RoundTripper
	resource string
	timeout  time.Duration
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(rt.ctx, rt.timeout)
	req = req.WithContext(ctx)

	// postgrest-go adds its default Accept after a builder's own one
	if accept := req.Header.Values("Accept"); len(accept) > 1 {
		req.Header.Set("Accept", accept[0])
	}

	start := time.Now()
	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		cancel()
		requestDuration.WithLabelValues(req.Method, rt.resource, "error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("%s %s failed: %w", req.Method, rt.resource, err)
	}
	requestDuration.WithLabelValues(req.Method, rt.resource, fmt.Sprint(resp.StatusCode)).Observe(time.Since(start).Seconds())

	log.WithFields(log.Fields{
		"method":   req.Method,
		"resource": rt.resource,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("Backend request")

	if resp.StatusCode >= 400 {
		defer cancel()
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s error response: %w", rt.resource, err)
		}
		return nil, decodeError(resp.StatusCode, data)
	}

	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelBody releases the request context once the SDK is done with the body
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
