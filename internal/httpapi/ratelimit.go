package httpapi

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"foodbridge/internal/session"
)

type RateLimitConfig struct {
	IPPerMinute       int
	IPBurst           int
	IdentityPerMinute int
	IdentityBurst     int
}

type RateLimiter struct {
	ipLimiter       *tokenLimiter
	identityLimiter *tokenLimiter
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		ipLimiter:       newTokenLimiter(cfg.IPPerMinute, cfg.IPBurst),
		identityLimiter: newTokenLimiter(cfg.IdentityPerMinute, cfg.IdentityBurst),
	}
}

// Middleware limits by client IP, and by identity when it runs inside
// AuthMiddleware.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if ip != "" && !l.ipLimiter.allow(ip) {
			w.Header().Set("Retry-After", "1")
			writeError(w, requestIDFromRequest(r), http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		if state, ok := session.FromContext(r.Context()); ok && state.Identity != nil {
			if !l.identityLimiter.allow(state.Identity.ID) {
				w.Header().Set("Retry-After", "1")
				writeError(w, requestIDFromRequest(r), http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type tokenLimiter struct {
	mu        sync.Mutex
	rate      float64
	burst     float64
	idle      time.Duration
	bucket    map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newTokenLimiter(perMinute, burst int) *tokenLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 20
	}
	rate := float64(perMinute) / 60.0
	// A bucket idle this long has refilled and is the same as a new one.
	idle := max(time.Minute, time.Duration(float64(burst)/rate*float64(time.Second)))
	return &tokenLimiter{
		rate:   rate,
		burst:  float64(burst),
		idle:   idle,
		bucket: make(map[string]*bucket),
		now:    time.Now,
	}
}

func (l *tokenLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)
	b, ok := l.bucket[key]
	if !ok {
		l.bucket[key] = &bucket{tokens: l.burst - 1, last: now}
		return true
	}
	elapsed := now.Sub(b.last).Seconds()
	b.tokens = min(l.burst, b.tokens+elapsed*l.rate)
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens -= 1
	return true
}

// sweep drops refilled buckets at most once per idle period; caller holds mu.
func (l *tokenLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.idle {
		return
	}
	l.lastSweep = now
	for key, b := range l.bucket {
		if now.Sub(b.last) >= l.idle {
			delete(l.bucket, key)
		}
	}
}

func (l *tokenLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.bucket)
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
