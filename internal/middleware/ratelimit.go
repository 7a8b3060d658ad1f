package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/m1z23r/drift/pkg/drift"
	"golang.org/x/time/rate"
)

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter keeps one token bucket per client and route. Buckets idle for
// twice the cleanup interval are dropped by Run.
type RateLimiter struct {
	rps   float64
	burst int

	// TrustProxy keys clients on the first X-Forwarded-For address. Only set
	// it behind a proxy that overwrites the header.
	TrustProxy bool
	// CleanupInterval defaults to 5 minutes.
	CleanupInterval time.Duration
	// OnReject is called with the request path of every rejected request.
	OnReject func(route string)

	mu       sync.Mutex
	limiters map[string]*clientLimiter
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		rps:             rps,
		burst:           burst,
		CleanupInterval: 5 * time.Minute,
		limiters:        make(map[string]*clientLimiter),
	}
}

// Run evicts idle buckets until ctx ends.
func (l *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.cleanup(now)
		}
	}
}

func (l *RateLimiter) cleanup(now time.Time) {
	ttl := 2 * l.CleanupInterval

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, cl := range l.limiters {
		if now.Sub(cl.lastAccess) > ttl {
			delete(l.limiters, key)
		}
	}
}

// LimiterCount returns the number of tracked buckets.
func (l *RateLimiter) LimiterCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *RateLimiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	cl, ok := l.limiters[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(l.rps), l.burst)}
		l.limiters[key] = cl
	}
	cl.lastAccess = time.Now()
	return cl.limiter
}

// Middleware rejects requests over the limit with 429. A non-positive rate
// disables limiting.
func (l *RateLimiter) Middleware() drift.HandlerFunc {
	return func(c *drift.Context) {
		if l.rps <= 0 {
			c.Next()
			return
		}

		route := c.Request.URL.Path
		key := clientIP(c.Request, l.TrustProxy) + "|" + route

		if !l.limiter(key).Allow() {
			if l.OnReject != nil {
				l.OnReject(route)
			}
			c.Response.Header().Set("Retry-After", strconv.Itoa(retryAfter(l.rps)))
			_ = c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			c.Abort()
			return
		}

		c.Next()
	}
}

// retryAfter is the number of seconds until one token is back.
func retryAfter(rps float64) int {
	sec := int(math.Ceil(1 / rps))
	if sec < 1 {
		sec = 1
	}
	return sec
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			if ip := strings.TrimSpace(strings.Split(fwd, ",")[0]); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
	return host
}
