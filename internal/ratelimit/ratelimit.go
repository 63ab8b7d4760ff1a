// Package ratelimit provides keyed token-bucket rate limiting middleware for
// net/http handlers with automatic stale-entry cleanup.
package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"github.com/wrale/copilot-device-gateway/internal/metrics"
)

// Config holds rate limiter configuration
type Config struct {
	// Rate is the number of requests allowed per second
	Rate float64
	// Burst is the maximum number of requests allowed in a burst
	Burst int
	// CleanupInterval is how often to clean up stale entries
	CleanupInterval time.Duration
	// MaxAge is how long to keep an entry after last access
	MaxAge time.Duration
}

// DefaultStatusConfig returns the default for status probes: one request per
// second per device code with a small burst, matching the provider's
// minimum polling interval
func DefaultStatusConfig() Config {
	return Config{
		Rate:            1,
		Burst:           3,
		CleanupInterval: time.Minute,
		MaxAge:          5 * time.Minute,
	}
}

// KeyFunc derives the rate limiting key from a request
type KeyFunc func(r *http.Request) string

// entry holds rate limiter and last access time for a key
type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter implements per-key rate limiting
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	config  Config
	clock   clock.WithTicker
	done    chan struct{}
	once    sync.Once
}

// New creates a limiter and starts its cleanup goroutine. A nil clock uses the wall clock.
func New(cfg Config, c clock.WithTicker) *Limiter {
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 5 * time.Minute
	}
	if c == nil {
		c = clock.RealClock{}
	}

	rl := &Limiter{
		entries: make(map[string]*entry),
		config:  cfg,
		clock:   c,
		done:    make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Allow checks if a request for key should be allowed
func (rl *Limiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	e, exists := rl.entries[key]
	if !exists {
		e = &entry{
			limiter: rate.NewLimiter(rate.Limit(rl.config.Rate), rl.config.Burst),
		}
		rl.entries[key] = e
	}
	e.lastAccess = now

	return e.limiter.AllowN(now, 1)
}

// Middleware passes requests over the limit to rejected, or answers 429 when
// rejected is nil. route labels the metric.
func (rl *Limiter) Middleware(route string, key KeyFunc, rejected http.Handler) func(http.Handler) http.Handler {
	if rejected == nil {
		rejected = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Rate limit exceeded, please try again later", http.StatusTooManyRequests)
		})
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(key(r)) {
				metrics.RateLimited.WithLabelValues(route).Inc()
				w.Header().Set("Retry-After", "1")
				rejected.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *Limiter) Stop() {
	rl.once.Do(func() { close(rl.done) })
}

// cleanup periodically removes stale entries
func (rl *Limiter) cleanup() {
	ticker := rl.clock.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C():
			rl.cleanupStaleEntries()
		}
	}
}

// cleanupStaleEntries removes entries that haven't been accessed recently
func (rl *Limiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	for key, e := range rl.entries {
		if now.Sub(e.lastAccess) > rl.config.MaxAge {
			delete(rl.entries, key)
		}
	}
}

// Len returns the current number of tracked keys
func (rl *Limiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// ByQuery keys requests by a query parameter, falling back to the client IP
func ByQuery(param string) KeyFunc {
	return func(r *http.Request) string {
		if v := r.URL.Query().Get(param); v != "" {
			return param + ":" + v
		}
		return ByIP(r)
	}
}

// ByIP keys requests by client address. Run chi's RealIP middleware first
// when behind a proxy.
func ByIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}
