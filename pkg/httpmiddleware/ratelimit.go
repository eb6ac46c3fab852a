package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the per-client sliding window limiter.
type RateLimitConfig struct {
	// Max requests per Window. Zero disables limiting.
	Max    int
	Window time.Duration
	// Key identifies the client. Defaults to ClientIP.
	Key func(*http.Request) string
}

// window holds request counts for the current and previous fixed windows.
// The effective count weights the previous window by its remaining overlap.
type window struct {
	start time.Time
	curr  float64
	prev  float64
}

// Limiter is a sliding window rate limiter keyed by client.
type Limiter struct {
	max     int
	size    time.Duration
	now     func() time.Time
	mu      sync.Mutex
	clients map[string]*window
}

// NewLimiter creates a Limiter allowing max requests per size window.
func NewLimiter(max int, size time.Duration) *Limiter {
	return &Limiter{
		max:     max,
		size:    size,
		now:     time.Now,
		clients: make(map[string]*window),
	}
}

// Allow records a request for key. It reports whether the request fits in
// the limit, how many requests remain and when the current window resets.
func (l *Limiter) Allow(key string) (allowed bool, remaining int, reset time.Time) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.clients[key]
	if !ok {
		w = &window{start: now.Truncate(l.size)}
		l.clients[key] = w
	}
	switch elapsed := now.Sub(w.start); {
	case elapsed >= 2*l.size:
		w.start, w.curr, w.prev = now.Truncate(l.size), 0, 0
	case elapsed >= l.size:
		w.start, w.curr, w.prev = w.start.Add(l.size), 0, w.curr
	}

	overlap := 1 - now.Sub(w.start).Seconds()/l.size.Seconds()
	count := w.prev*math.Max(overlap, 0) + w.curr
	reset = w.start.Add(l.size)
	if count >= float64(l.max) {
		return false, 0, reset
	}
	w.curr++
	return true, max(l.max-int(math.Ceil(count+1)), 0), reset
}

// Evict drops clients idle for at least two windows.
func (l *Limiter) Evict() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.clients {
		if now.Sub(w.start) >= 2*l.size {
			delete(l.clients, key)
		}
	}
}

// RunEviction calls Evict every two windows until ctx is done.
func (l *Limiter) RunEviction(ctx context.Context) {
	t := time.NewTicker(2 * l.size)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Evict()
		}
	}
}

// RateLimit rejects clients over the limit with 429 RATE_LIMITED. Responses
// carry X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset.
func RateLimit(l *Limiter, key func(*http.Request) string) Middleware {
	if key == nil {
		key = ClientIP
	}
	limit := strconv.Itoa(l.max)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, remaining, reset := l.Allow(key(r))

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			if !allowed {
				retry := math.Ceil(max(reset.Sub(l.now()), 0).Seconds())
				h.Set("Retry-After", strconv.Itoa(int(retry)))
				WriteError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitWithEviction builds a Limiter from cfg, evicts idle clients in the
// background until ctx is done and returns its middleware. A zero Max
// disables limiting.
func RateLimitWithEviction(ctx context.Context, cfg RateLimitConfig) Middleware {
	if cfg.Max <= 0 || cfg.Window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	l := NewLimiter(cfg.Max, cfg.Window)
	go l.RunEviction(ctx)
	return RateLimit(l, cfg.Key)
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP or the remote
// host, in that order.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
