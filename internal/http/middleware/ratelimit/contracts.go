package ratelimit

import (
	"net/http"
	"time"
)

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(key string) bool
}

// KeyFunc extracts the bucket key of a request.
type KeyFunc func(r *http.Request) string

// Clock provides current time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// NopLimiter allows every request. It is used when rate limiting is off.
type NopLimiter struct{}

// Allow always returns true
func (NopLimiter) Allow(string) bool { return true }
