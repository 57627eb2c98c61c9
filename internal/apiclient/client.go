// Package apiclient is a small rate-limited JSON client shared by the HTTP
// job API and the STAC catalog backends.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Config configures a Client.
type Config struct {
	BaseURL string
	// Token is sent as a Bearer token when set.
	Token string
	// RateLimit is requests per second (default: 5).
	RateLimit float64
	// RateBurst is the maximum burst size (default: 1).
	RateBurst int
	// Timeout for individual requests (default: 30s).
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client issues JSON requests against one base URL.
type Client struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
}

// JSON unmarshals the response body into target.
func (r *Response) JSON(target any) error {
	return json.Unmarshal(r.Body, target)
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// StatusError is returned by callers when a response has an unexpected status.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Retryable reports whether the server side may recover on its own.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

func New(cfg Config) *Client {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 5
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		token:       cfg.Token,
		httpClient:  httpClient,
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
	}
}

// URL joins path onto the base URL.
func (c *Client) URL(path string) string {
	return c.baseURL + "/" + strings.TrimPrefix(path, "/")
}

// Do sends body (JSON-encoded when non-nil) and reads the whole response.
// Only transport failures are returned as errors; status handling is left to
// the caller.
func (c *Client) Do(ctx context.Context, method, path string, body any) (*Response, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		payloadBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payloadBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: respBody}, nil
}

// NewStatusError builds a StatusError for a response, truncating the body.
func (c *Client) NewStatusError(method, path string, resp *Response) *StatusError {
	body := string(resp.Body)
	if len(body) > 512 {
		body = body[:512]
	}
	return &StatusError{Method: method, URL: c.URL(path), StatusCode: resp.StatusCode, Body: body}
}
