// Package client provides the firm registry HTTP client: a single-shot JSON
// transport, a retrying fetcher with per-class backoff, an optional Redis
// response cache, and a header-driven rate limit gate.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/firm-audit/pkg/cache"
	"github.com/Sternrassler/firm-audit/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firm_audit_requests_total",
		Help: "Total registry requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "firm_audit_request_duration_seconds",
		Help:    "Registry request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 20},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firm_audit_errors_total",
		Help: "Total registry errors by class",
	}, []string{"class"})
)

// Client is the retrying registry client.
type Client struct {
	transport   *Transport
	retry       RetryPolicy
	cache       *cache.Manager
	rateLimiter *ratelimit.Tracker
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Timeout applies to every individual HTTP call
	Timeout time.Duration

	// UserAgent header sent with each request
	UserAgent string

	// Retry policy for transient failures
	Retry RetryPolicy

	// Cache is optional; nil disables response caching
	Cache *cache.Manager

	// RateLimiter is optional; nil uses an in-memory tracker
	RateLimiter *ratelimit.Tracker

	// Logger is optional; the zero value falls back to the global logger
	Logger *zerolog.Logger
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:   20 * time.Second,
		UserAgent: "gpti-audit/1.0",
		Retry:     DefaultRetryPolicy(),
	}
}

// New creates a new registry client.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive (got %s)", cfg.Timeout)
	}
	if cfg.Retry.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must be >= 0 (got %d)", cfg.Retry.MaxRetries)
	}

	logger := defaultLogger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimiter = ratelimit.NewTracker(ratelimit.NewMemoryStore(), logger)
	}

	return &Client{
		transport:   NewTransport(cfg.Timeout, cfg.UserAgent),
		retry:       cfg.Retry,
		cache:       cfg.Cache,
		rateLimiter: rateLimiter,
		logger:      logger,
	}, nil
}

// FetchJSON fetches rawURL with retry-with-backoff and decodes the body into v.
// Cached bodies are served without a network round trip.
func (c *Client) FetchJSON(ctx context.Context, rawURL string, v any) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	endpoint := u.Path
	cacheKey := cache.KeyFromURL(u)

	if c.cache != nil {
		entry, err := c.cache.Get(ctx, cacheKey)
		switch {
		case err == nil:
			if decodeErr := DecodeJSON(rawURL, entry.Data, v); decodeErr == nil {
				c.logger.Debug().Str("url", rawURL).Msg("Served from cache")
				return nil
			}
			_ = c.cache.Delete(ctx, cacheKey)
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Cache get error")
		}
	}

	var resp *Response
	err = c.retry.Do(ctx, c.logger.With().Str("url", rawURL).Logger(), func(ctx context.Context) error {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return err
		}

		start := time.Now()
		r, err := c.transport.Get(ctx, rawURL)
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

		if err != nil {
			c.observeFailure(ctx, endpoint, err)
			return err
		}

		requestsTotal.WithLabelValues(endpoint, strconv.Itoa(r.StatusCode)).Inc()
		if err := c.rateLimiter.UpdateFromHeaders(ctx, r.Header, r.StatusCode); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
		}
		resp = r
		return nil
	})
	if err != nil {
		c.logger.Debug().Err(err).Str("url", rawURL).Msg("Fetch failed")
		return err
	}

	if err := DecodeJSON(rawURL, resp.Body, v); err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return err
	}

	if c.cache != nil {
		entry := c.cache.NewEntry(resp.StatusCode, resp.Header, resp.Body)
		if err := c.cache.Set(ctx, cacheKey, entry); err != nil {
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Failed to cache response")
		}
	}

	return nil
}

// observeFailure records metrics and rate limit hints for a failed attempt.
func (c *Client) observeFailure(ctx context.Context, endpoint string, err error) {
	errClass := ClassifyError(err)
	errorsTotal.WithLabelValues(string(errClass)).Inc()

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		requestsTotal.WithLabelValues(endpoint, strconv.Itoa(statusErr.StatusCode)).Inc()
		if updateErr := c.rateLimiter.UpdateFromHeaders(ctx, statusErr.Header, statusErr.StatusCode); updateErr != nil {
			c.logger.Warn().Err(updateErr).Msg("Failed to update rate limit from headers")
		}
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", statusErr.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Registry request error")
		return
	}

	requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
	c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
}
