// Package httputil provides the outbound HTTP client used for third-party
// provider calls.
package httputil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a small JSON-API client with transport-level retries. Status
// codes are returned to the caller untouched; only network failures are
// retried here.
type Client struct {
	baseURL    string
	headers    map[string]string
	http       *http.Client
	maxRetries int
	retryDelay time.Duration
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL string
	// Headers are attached to every request (API keys, accept types).
	Headers    map[string]string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// NewClient creates a Client with sane defaults.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = 250 * time.Millisecond
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		headers:    cfg.Headers,
		http:       &http.Client{Timeout: timeout},
		maxRetries: cfg.MaxRetries,
		retryDelay: delay,
	}
}

// Get performs a GET against baseURL+path, retrying network failures.
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		for k, v := range c.headers {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// ReadBody drains the response body up to limit bytes and closes it.
func ReadBody(resp *http.Response, limit int64) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}
