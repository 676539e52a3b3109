// Package ratelimit implements a header-driven request gate for the firm
// registry. It reads X-RateLimit-Remaining / X-RateLimit-Reset and Retry-After
// response headers and holds further requests until the advertised reset time.
package ratelimit

import (
	"time"
)

// Redis keys for rate limit state storage.
const (
	RedisKeyRemaining  = "firm-audit:rate_limit:remaining"
	RedisKeyResetAt    = "firm-audit:rate_limit:reset_at"
	RedisKeyLastUpdate = "firm-audit:rate_limit:last_update"
)

// UnknownRemaining marks a state for which the server never reported a quota.
const UnknownRemaining = -1

// State represents the current registry rate limit state.
type State struct {
	// Remaining is the number of requests left in the current window,
	// or UnknownRemaining.
	Remaining int `json:"remaining"`

	// ResetAt is when the current window ends.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last updated.
	LastUpdate time.Time `json:"last_update"`
}

// DefaultState returns the state assumed before any headers were seen.
func DefaultState() *State {
	return &State{Remaining: UnknownRemaining}
}

// Blocked reports whether requests must wait for the window to reset.
func (s *State) Blocked(now time.Time) bool {
	return s.Remaining == 0 && s.ResetAt.After(now)
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s *State) TimeUntilReset(now time.Time) time.Duration {
	d := s.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
