package ratelimit

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ClientLimiter is a per-client token bucket for inbound API requests with a
// cache of limiters keyed by client address and periodic idle cleanup.
type ClientLimiter struct {
	mu           sync.Mutex
	entries      map[string]*clientEntry
	rps          rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
	clock        Clock
}

type clientEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// ClientOption configures a ClientLimiter.
type ClientOption func(*ClientLimiter)

// WithIdleTTL sets how long an unused client entry is kept.
func WithIdleTTL(d time.Duration) ClientOption {
	return func(c *ClientLimiter) { c.idleTTL = d }
}

// WithCleanupEvery sets the janitor interval. Zero disables the janitor.
func WithCleanupEvery(d time.Duration) ClientOption {
	return func(c *ClientLimiter) { c.cleanupEvery = d }
}

// WithClientClock sets the clock used for refills and idle tracking.
func WithClientClock(clock Clock) ClientOption {
	return func(c *ClientLimiter) { c.clock = clock }
}

// NewClientLimiter creates a limiter allowing rps requests per second per
// client with the given burst.
func NewClientLimiter(rps float64, burst int, opts ...ClientOption) *ClientLimiter {
	if burst <= 0 {
		burst = 1
	}
	c := &ClientLimiter{
		entries:      make(map[string]*clientEntry),
		rps:          rate.Limit(rps),
		burst:        burst,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
		clock:        realClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Allow reports whether key may make a request now and, if not, how long it
// should wait.
func (c *ClientLimiter) Allow(key string) (bool, time.Duration) {
	now := c.clock.Now()
	lim := c.get(key, now)

	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (c *ClientLimiter) get(key string, now time.Time) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := rate.NewLimiter(c.rps, c.burst)
	c.entries[key] = &clientEntry{lim: lim, lastSeen: now}
	return lim
}

// Len returns the number of tracked clients.
func (c *ClientLimiter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Cleanup drops clients idle for longer than the idle TTL.
func (c *ClientLimiter) Cleanup() {
	cutoff := c.clock.Now().Add(-c.idleTTL)

	c.mu.Lock()
	defer c.mu.Unlock()

	for k, ent := range c.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(c.entries, k)
		}
	}
}

// StartJanitor runs Cleanup periodically until ctx is cancelled.
func (c *ClientLimiter) StartJanitor(ctx context.Context) {
	if c.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(c.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.Cleanup()
			}
		}
	}()
}

// Middleware rejects requests from clients over their rate with 429 and a
// Retry-After header. Clients are keyed by remote address, so mount it after
// chi's RealIP middleware when running behind a proxy.
func (c *ClientLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := c.Allow(clientKey(r))
		if !ok {
			secs := int(math.Ceil(wait.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{
					"message": "too many requests",
					"type":    "rate_limit_error",
				},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	if addr != "" {
		return addr
	}
	return "unknown"
}
