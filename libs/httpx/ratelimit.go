package httpx

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimiter is an in-process fixed-window limiter keyed by client address,
// for single-instance deployments where Redis is not available.
type RateLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count   int
	resetAt time.Time
}

func NewRateLimiter(limit int, windowLen time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  windowLen,
		windows: map[string]*window{},
	}
}

func (rl *RateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.allow(clientKey(r)) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	win := rl.windows[key]
	if win == nil || now.After(win.resetAt) {
		rl.prune(now)
		rl.windows[key] = &window{count: 1, resetAt: now.Add(rl.window)}
		return true
	}
	if win.count >= rl.limit {
		return false
	}
	win.count++
	return true
}

// prune drops expired windows so the map does not grow with one entry per
// client forever. Called with the lock held, only on the new-window path.
func (rl *RateLimiter) prune(now time.Time) {
	for key, win := range rl.windows {
		if now.After(win.resetAt) {
			delete(rl.windows, key)
		}
	}
}

func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
