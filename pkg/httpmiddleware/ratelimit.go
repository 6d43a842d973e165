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

	"github.com/go-faster/jx"
)

// RateLimitConfig configures a per-client sliding window limiter.
type RateLimitConfig struct {
	// Max requests per Window.
	Max    int
	Window time.Duration
	// Key identifies the client. Defaults to ClientIP.
	Key func(*http.Request) string
	// Cleanup evicts idle clients every two windows until ctx is done.
	// Nil disables eviction.
	Cleanup context.Context
}

// counter approximates a sliding window from two fixed windows: the
// previous window's count is weighted by how much of it still overlaps.
type counter struct {
	start time.Time
	curr  float64
	prev  float64
}

type limiter struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	clients map[string]*counter
}

func newLimiter(limit int, window time.Duration) *limiter {
	return &limiter{
		max:     limit,
		window:  window,
		now:     time.Now,
		clients: make(map[string]*counter),
	}
}

// take consumes one request for key if allowed.
func (l *limiter) take(key string) (remaining int, reset time.Time, ok bool) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.clients[key]
	if c == nil {
		c = &counter{start: now.Truncate(l.window)}
		l.clients[key] = c
	}
	switch elapsed := now.Sub(c.start); {
	case elapsed >= 2*l.window:
		c.prev, c.curr = 0, 0
		c.start = now.Truncate(l.window)
	case elapsed >= l.window:
		c.prev, c.curr = c.curr, 0
		c.start = c.start.Add(l.window)
	}

	overlap := 1 - float64(now.Sub(c.start))/float64(l.window)
	used := c.prev*max(overlap, 0) + c.curr
	reset = c.start.Add(l.window)
	if used >= float64(l.max) {
		return 0, reset, false
	}
	c.curr++
	return max(l.max-int(math.Ceil(used+1)), 0), reset, true
}

func (l *limiter) evict() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, c := range l.clients {
		if now.Sub(c.start) >= 2*l.window {
			delete(l.clients, key)
		}
	}
}

func (l *limiter) evictLoop(ctx context.Context) {
	t := time.NewTicker(2 * l.window)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.evict()
		}
	}
}

// RateLimit limits each client to cfg.Max requests per cfg.Window. Every
// response carries X-RateLimit-* headers; rejected requests get 429 with a
// Retry-After header and a JSON error body.
func RateLimit(cfg RateLimitConfig) Middleware {
	l := newLimiter(cfg.Max, cfg.Window)
	if cfg.Cleanup != nil {
		go l.evictLoop(cfg.Cleanup)
	}
	key := cfg.Key
	if key == nil {
		key = ClientIP
	}
	return l.middleware(key)
}

func (l *limiter) middleware(key func(*http.Request) string) Middleware {
	limit := strconv.Itoa(l.max)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remaining, reset, ok := l.take(key(r))

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			if ok {
				next.ServeHTTP(w, r)
				return
			}

			wait := max(reset.Sub(l.now()), 0)
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)

			var e jx.Encoder
			e.Obj(func(e *jx.Encoder) {
				e.Field("code", func(e *jx.Encoder) { e.Int(http.StatusTooManyRequests) })
				e.Field("message", func(e *jx.Encoder) { e.Str("rate limit exceeded") })
			})
			_, _ = w.Write(e.Bytes())
		})
	}
}

// ClientIP returns the first X-Forwarded-For address, then X-Real-IP, then
// the connection's remote host.
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
