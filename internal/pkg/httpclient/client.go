// Package httpclient provides the shared JSON-over-HTTP client used by the
// exchange and chat adapters. Requests are rate limited and, unless a request
// opts out, retried with exponential backoff.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/archon-research/p2pwatch/internal/pkg/retry"
)

// Config holds the configuration for the HTTP client.
type Config struct {
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	RateLimit      rate.Limit
	RateBurst      int
}

// DefaultConfig returns defaults suitable for exchange REST APIs.
func DefaultConfig() Config {
	return Config{
		Timeout:        15 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
		RateLimit:      rate.Limit(5),
		RateBurst:      1,
	}
}

// Request describes one logical call. Body is re-sent on every attempt.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte

	// Prepare runs on each attempt just before sending, e.g. to sign with a fresh timestamp.
	Prepare func(req *http.Request, body []byte) error

	// NoRetry sends the request exactly once.
	NoRetry bool
}

// ErrorParser inspects a response body for API-level errors. It runs on every
// response; returning nil means the body is fine. Wrap with WrapNonRetryable to
// stop retries.
type ErrorParser func(statusCode int, body []byte) error

// Client wraps an http.Client with retries and a token-bucket limiter.
type Client struct {
	httpClient  *http.Client
	limiter     *rate.Limiter
	retryConfig retry.Config
	logger      *slog.Logger
	errorParser ErrorParser
}

// NewClient creates a new HTTP client with the given configuration.
func NewClient(cfg Config, logger *slog.Logger, errorParser ErrorParser) *Client {
	defaults := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaults.RateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaults.RateBurst
	}
	if logger == nil {
		logger = slog.Default()
	}
	if errorParser == nil {
		errorParser = func(int, []byte) error { return nil }
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		retryConfig: retry.Config{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
			BackoffFactor:  cfg.BackoffFactor,
			Jitter:         true,
		},
		logger:      logger,
		errorParser: errorParser,
	}
}

// Do performs the request and decodes a successful JSON body into result.
// A nil result discards the body.
func (c *Client) Do(ctx context.Context, r Request, result any) error {
	cfg := c.retryConfig
	if r.NoRetry {
		cfg.MaxRetries = 0
	}

	isRetryable := func(err error) bool {
		var nonRetryable *NonRetryableError
		return !errors.As(err, &nonRetryable)
	}

	onRetry := func(attempt int, err error, backoff time.Duration) {
		c.logger.Warn("request failed, retrying",
			"url", r.URL,
			"attempt", attempt,
			"maxRetries", cfg.MaxRetries,
			"backoff", backoff,
			"error", err,
		)
	}

	return retry.DoVoid(ctx, cfg, isRetryable, onRetry, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return WrapNonRetryable(fmt.Errorf("rate limiter: %w", err))
		}
		return c.doOnce(ctx, r, result)
	})
}

func (c *Client) doOnce(ctx context.Context, r Request, result any) error {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return WrapNonRetryable(fmt.Errorf("creating request: %w", err))
	}

	req.Header.Set("Accept", "application/json")
	if r.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range r.Headers {
		req.Header.Set(key, value)
	}
	if r.Prepare != nil {
		if err := r.Prepare(req, r.Body); err != nil {
			return WrapNonRetryable(fmt.Errorf("preparing request: %w", err))
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("failed to close response body", "error", closeErr)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("rate limited (HTTP 429)")
	case resp.StatusCode >= 500:
		return fmt.Errorf("server error (HTTP %d)", resp.StatusCode)
	case resp.StatusCode >= 400:
		if apiErr := c.errorParser(resp.StatusCode, respBody); apiErr != nil {
			return WrapNonRetryable(apiErr)
		}
		return WrapNonRetryable(fmt.Errorf("client error (HTTP %d): %s", resp.StatusCode, truncate(respBody, 256)))
	}

	if apiErr := c.errorParser(resp.StatusCode, respBody); apiErr != nil {
		return apiErr
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return WrapNonRetryable(fmt.Errorf("parsing response: %w", err))
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// NonRetryableError marks an error that must not be retried.
type NonRetryableError struct {
	err error
}

func (e *NonRetryableError) Error() string { return e.err.Error() }

func (e *NonRetryableError) Unwrap() error { return e.err }

// WrapNonRetryable wraps an error to indicate it should not be retried.
func WrapNonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{err: err}
}
