// Package mediawiki is a minimal client for the MediaWiki action API, limited to
// what category enumeration needs.
package mediawiki

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	wikierrors "github.com/olgasafonova/wikicat/internal/errors"
	"github.com/olgasafonova/wikicat/internal/infra"
	"github.com/olgasafonova/wikicat/metrics"
)

const (
	// DefaultTimeout for API requests
	DefaultTimeout = 30 * time.Second

	// MaxResponseBytes caps how much of a response body is read
	MaxResponseBytes = 10 << 20

	defaultUserAgent = "wikicat/1.0"
)

// ClientConfig holds MediaWiki connection settings
type ClientConfig struct {
	// Endpoint is the wiki API URL (e.g., https://en.wiktionary.org/w/api.php)
	Endpoint string

	// UserAgent identifies the client to the wiki. Wikimedia rejects requests without one.
	UserAgent string

	// Timeout for a single API request
	Timeout time.Duration
}

// Client sends requests to a MediaWiki API endpoint. Each call is a single attempt;
// retry policy belongs to the caller.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
	breaker    *infra.CircuitBreaker
}

// ClientOption configures the Client
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets a custom logger
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithCircuitBreaker makes the client fail fast while cb is open.
func WithCircuitBreaker(cb *infra.CircuitBreaker) ClientOption {
	return func(c *Client) {
		c.breaker = cb
	}
}

// NewClient creates a new MediaWiki API client
func NewClient(config ClientConfig, opts ...ClientOption) *Client {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}

	c := &Client{
		config:     config,
		httpClient: newHTTPClient(config.Timeout),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the API URL the client talks to.
func (c *Client) Endpoint() string {
	return c.config.Endpoint
}

// get performs one GET against the API endpoint and returns the body of a 200 response.
// The breaker sees every request that reaches the wiki: 5xx, 429 and transport
// errors count as failures, any other answer as a success, and a request the
// caller cancelled releases its probe slot.
func (c *Client) get(ctx context.Context, action string, params url.Values) ([]byte, error) {
	endpoint, err := url.Parse(c.config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", c.config.Endpoint, err)
	}
	query := endpoint.Query()
	for k, vs := range params {
		query[k] = vs
	}
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)

	if c.breaker != nil {
		if err := c.breaker.Allow(); err != nil {
			metrics.RecordAPICall(action, 0, false, "circuit_open")
			return nil, err
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			c.releaseProbe()
			metrics.RecordAPICall(action, time.Since(start).Seconds(), false, "canceled")
			return nil, fmt.Errorf("request failed: %w", err)
		}
		c.recordFailure()
		metrics.RecordAPICall(action, time.Since(start).Seconds(), false, "transport")
		return nil, fmt.Errorf("request failed: %w", err)
	}

	body, err := readAndClose(resp)
	duration := time.Since(start).Seconds()
	if err != nil {
		c.recordFailure()
		metrics.RecordAPICall(action, duration, false, "read")
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := &wikierrors.StatusError{
			StatusCode: resp.StatusCode,
			Body:       truncate(string(body), 200),
		}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, parseErr := strconv.Atoi(ra); parseErr == nil && seconds > 0 {
				statusErr.RetryAfter = seconds
			}
		}
		if statusErr.Retryable() {
			c.recordFailure()
		} else {
			c.recordSuccess()
		}
		metrics.RecordAPICall(action, duration, false, strconv.Itoa(resp.StatusCode))
		return nil, statusErr
	}

	c.recordSuccess()
	metrics.RecordAPICall(action, duration, true, "")
	return body, nil
}

func (c *Client) recordFailure() {
	if c.breaker != nil {
		c.breaker.RecordFailure()
	}
}

func (c *Client) recordSuccess() {
	if c.breaker != nil {
		c.breaker.RecordSuccess()
	}
}

func (c *Client) releaseProbe() {
	if c.breaker != nil {
		c.breaker.Release()
	}
}

// readAndClose reads at most MaxResponseBytes of the body and closes it
func readAndClose(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes))
	_ = resp.Body.Close()
	return body, err
}

// truncate shortens a string to maxLen, adding "..." if truncated
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// newHTTPClient creates an HTTP client with connection reuse across pages
func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
