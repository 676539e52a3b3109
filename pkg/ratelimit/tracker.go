package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	rateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "firm_audit_rate_limit_remaining",
		Help: "Requests remaining in the current registry rate limit window",
	})

	rateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "firm_audit_rate_limit_waits_total",
		Help: "Total number of requests held until the rate limit window reset",
	})
)

// DefaultMaxWait caps how long a single request is held by the gate.
const DefaultMaxWait = 60 * time.Second

// epochThreshold separates "seconds until reset" from absolute unix timestamps.
const epochThreshold = 1_000_000_000

// Tracker monitors registry rate limits and gates requests.
type Tracker struct {
	store   Store
	logger  zerolog.Logger
	maxWait time.Duration
	now     func() time.Time
}

// NewTracker creates a new rate limit tracker.
func NewTracker(store Store, logger zerolog.Logger) *Tracker {
	return &Tracker{
		store:   store,
		logger:  logger,
		maxWait: DefaultMaxWait,
		now:     time.Now,
	}
}

// GetState retrieves the current rate limit state.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	return t.store.Load(ctx)
}

// UpdateFromHeaders parses rate limit headers and updates the stored state.
// Responses without rate limit headers leave the state untouched.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header, statusCode int) error {
	if headers == nil {
		return nil
	}
	now := t.now()

	var state *State
	if retryAfter := headers.Get("Retry-After"); retryAfter != "" &&
		(statusCode == http.StatusTooManyRequests || statusCode == http.StatusServiceUnavailable) {
		wait, err := parseRetryAfter(retryAfter, now)
		if err != nil {
			return err
		}
		state = &State{Remaining: 0, ResetAt: now.Add(wait), LastUpdate: now}
	} else if remainStr := headers.Get("X-RateLimit-Remaining"); remainStr != "" {
		remain, err := strconv.Atoi(strings.TrimSpace(remainStr))
		if err != nil {
			return fmt.Errorf("parse X-RateLimit-Remaining header: %w", err)
		}

		resetAt := now
		if resetStr := headers.Get("X-RateLimit-Reset"); resetStr != "" {
			resetAt, err = parseReset(resetStr, now)
			if err != nil {
				return err
			}
		}
		state = &State{Remaining: remain, ResetAt: resetAt, LastUpdate: now}
	} else {
		return nil
	}

	if err := t.store.Save(ctx, state); err != nil {
		return err
	}

	if state.Remaining >= 0 {
		rateLimitRemaining.Set(float64(state.Remaining))
	}

	if state.Blocked(now) {
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Registry rate limit reached - requests will wait for reset")
	} else {
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Rate limit state updated")
	}
	return nil
}

// Wait blocks until the gate allows a request or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	state, err := t.store.Load(ctx)
	if err != nil {
		// A broken state store must not stall the audit
		t.logger.Warn().Err(err).Msg("Rate limit state unavailable, proceeding")
		return nil
	}

	now := t.now()
	if !state.Blocked(now) {
		return nil
	}

	wait := state.TimeUntilReset(now)
	if wait > t.maxWait {
		wait = t.maxWait
	}

	rateLimitWaitsTotal.Inc()
	t.logger.Debug().Dur("wait", wait).Msg("Waiting for rate limit reset")

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second, nil
	}
	at, err := http.ParseTime(value)
	if err != nil {
		return 0, fmt.Errorf("parse Retry-After header: %w", err)
	}
	if at.Before(now) {
		return 0, nil
	}
	return at.Sub(now), nil
}

// parseReset accepts seconds until reset or an absolute unix timestamp.
func parseReset(value string, now time.Time) (time.Time, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse X-RateLimit-Reset header: %w", err)
	}
	if n >= epochThreshold {
		return time.Unix(n, 0), nil
	}
	return now.Add(time.Duration(n) * time.Second), nil
}
