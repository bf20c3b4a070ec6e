// Package ratelimit implements fixed-window request quotas keyed by caller
// identity or client IP.
package ratelimit

import (
	"context"
	"time"
)

// DefaultWindow is the quota window used when none is configured.
const DefaultWindow = 60 * time.Second

// Result is the outcome of one Check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetIn is the time until the current window closes. It is never
	// negative and never exceeds the window.
	ResetIn time.Duration
}

// Limiter decides whether one more request for key fits in the current
// window.
type Limiter interface {
	Check(ctx context.Context, key string, maxRequests int) (Result, error)
}

func clampReset(d, window time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > window {
		return window
	}
	return d
}
