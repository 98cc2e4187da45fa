package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RealIP returns the client address for rate limit keys. Cloudflare's
// CF-Connecting-IP wins, then the first hop of X-Forwarded-For, then the
// socket address.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type window struct {
	count   int
	resetAt time.Time
}

// RateLimiter counts requests per key in fixed windows, in memory. Counters
// are shared across policies, so callers that reuse one limiter prefix their
// keys per policy.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]window
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{windows: make(map[string]window)}
}

// Allow records one request for key and reports whether it fits the limit.
// A key's first request after its window lapses opens a fresh window.
func (rl *RateLimiter) Allow(key string, limit int, windowSize time.Duration) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	w, ok := rl.windows[key]
	if !ok || now.After(w.resetAt) {
		rl.windows[key] = window{count: 1, resetAt: now.Add(windowSize)}
		return true
	}
	w.count++
	rl.windows[key] = w
	return w.count <= limit
}

// Cleanup drops lapsed windows and returns how many it removed. The hourly
// maintenance job calls this so idle keys don't accumulate forever.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, w := range rl.windows {
		if now.After(w.resetAt) {
			delete(rl.windows, key)
			removed++
		}
	}
	return removed
}

// RateLimit refuses requests over the limit with a 429 envelope before they
// reach the handler chain.
func RateLimit(limiter *RateLimiter, keyFunc func(*http.Request) string, limit int, windowSize time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(keyFunc(r), limit, windowSize) {
				writeError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
