package domain

import "time"

// RateLimitCounter is one fixed window for one (identity, endpoint) pair.
// It lives in the window store (in-process map or Redis), not in the relational
// store; the struct is the shared wire/serialization form. An active block
// always takes precedence over the counter.
type RateLimitCounter struct {
	Identity     string    `json:"identity"`
	Endpoint     string    `json:"endpoint"`
	Requests     int       `json:"requests"`
	WindowStart  time.Time `json:"window_start"`
	IsBlocked    bool      `json:"is_blocked"`
	BlockedUntil time.Time `json:"blocked_until"`
}

func (c *RateLimitCounter) BlockActive(now time.Time) bool {
	return c.IsBlocked && c.BlockedUntil.After(now)
}

func (c *RateLimitCounter) WindowExpired(now time.Time, window time.Duration) bool {
	return now.After(c.WindowStart.Add(window))
}
