// Package ratelimit throttles OAuth endpoints per caller using token buckets
// from golang.org/x/time/rate.
package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"area-connect/internal/common/errors"
	"area-connect/internal/common/logging"

	"golang.org/x/time/rate"
)

// Config sizes each caller's bucket.
type Config struct {
	RequestsPerSecond float64
	BurstSize         int
	// MaxKeys bounds the number of tracked callers.
	MaxKeys int
	// IdleTTL is how long an unused bucket is kept.
	IdleTTL time.Duration
}

// Validate checks that the bucket can ever admit a request.
func (c Config) Validate() error {
	if c.RequestsPerSecond <= 0 {
		return errors.ConfigError("rate limit requests per second must be positive")
	}
	if c.BurstSize <= 0 {
		return errors.ConfigError("rate limit burst size must be positive")
	}
	return nil
}

// Limiter keeps one token bucket per key.
type Limiter struct {
	mu       sync.Mutex
	config   Config
	limiters map[string]*limiterEntry
	now      func() time.Time

	lastCleanup time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// New creates a keyed limiter.
func New(config Config) (*Limiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.MaxKeys <= 0 {
		config.MaxKeys = 10000
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = 10 * time.Minute
	}
	return &Limiter{
		config:      config,
		limiters:    make(map[string]*limiterEntry),
		now:         time.Now,
		lastCleanup: time.Now(),
	}, nil
}

// Allow reports whether key may make a request now.
func (l *Limiter) Allow(key string) bool {
	now := l.now()
	return l.limiterFor(key, now).AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *Limiter) limiterFor(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) > l.config.IdleTTL {
		l.cleanup(now)
	}

	entry, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= l.config.MaxKeys {
			l.cleanup(now)
		}
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.BurstSize),
		}
		l.limiters[key] = entry
	}
	entry.lastUsed = now
	return entry.limiter
}

// cleanup drops idle buckets. When every bucket is recent and the table is
// still full, the oldest is evicted.
func (l *Limiter) cleanup(now time.Time) {
	cutoff := now.Add(-l.config.IdleTTL)
	var oldestKey string
	var oldest time.Time
	for key, entry := range l.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(l.limiters, key)
			continue
		}
		if oldestKey == "" || entry.lastUsed.Before(oldest) {
			oldestKey, oldest = key, entry.lastUsed
		}
	}
	if len(l.limiters) >= l.config.MaxKeys && oldestKey != "" {
		delete(l.limiters, oldestKey)
	}
	l.lastCleanup = now
}

// HTTPMiddleware rejects requests over the limit with 429.
func (l *Limiter) HTTPMiddleware(keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(1/l.config.RequestsPerSecond) + 1)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if !l.Allow(key) {
				logging.WithContext(r.Context()).Warn("Rate limit exceeded",
					logging.String("key", key),
					logging.String("path", r.URL.Path))
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", retryAfter)
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserOrIPKey keys authenticated requests by user and the rest by client IP.
func UserOrIPKey(r *http.Request) string {
	if userID, ok := logging.UserIDFromContext(r.Context()); ok {
		return "user:" + userID
	}
	return IPKey(r)
}

// IPKey keys a request by its remote address.
func IPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
