package httpapi

import (
	"crypto/subtle"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xpadev-net/memorial-livestream/internal/log"
)

// HeaderInternalAPIKey is the header name for internal API key authentication.
const HeaderInternalAPIKey = "X-Internal-API-Key"

// InternalAPIKeyAuth returns a middleware that validates the internal API key.
func InternalAPIKeyAuth(internalAPIKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderInternalAPIKey)
		if key == "" {
			RespondUnauthorized(c, "Internal API key is required")
			c.Abort()
			return
		}

		if subtle.ConstantTimeCompare([]byte(key), []byte(internalAPIKey)) != 1 {
			RespondUnauthorized(c, "Invalid internal API key")
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequestLogger logs each request after it completes.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		switch {
		case c.Writer.Status() >= 500:
			log.Error("http request", fields...)
		case c.Request.URL.Path == "/healthz" || c.Request.URL.Path == "/readyz":
			log.Debug("http request", fields...)
		default:
			log.Info("http request", fields...)
		}
	}
}

const defaultMaxVisitors = 10000

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps one token bucket per key. Idle keys are swept after
// window; when maxVisitors is reached the least recently seen key is
// evicted.
type rateLimiter struct {
	limit       rate.Limit
	burst       int
	window      time.Duration
	maxVisitors int
	now         func() time.Time

	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	if limit <= 0 {
		limit = 1
	}
	interval := window / time.Duration(limit)
	if interval <= 0 {
		interval = time.Second
	}
	return &rateLimiter{
		limit:       rate.Every(interval),
		burst:       limit,
		window:      window,
		maxVisitors: defaultMaxVisitors,
		now:         time.Now,
		visitors:    make(map[string]*visitor),
	}
}

func (l *rateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.window {
		l.sweepLocked(now)
	}

	v, ok := l.visitors[key]
	if !ok {
		if len(l.visitors) >= l.maxVisitors {
			l.evictOldestLocked()
		}
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (l *rateLimiter) sweepLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	for k, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, k)
		}
	}
	l.lastSweep = now
}

func (l *rateLimiter) evictOldestLocked() {
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, v := range l.visitors {
		if oldestKey == "" || v.lastSeen.Before(oldest) {
			oldestKey, oldest = k, v.lastSeen
		}
	}
	delete(l.visitors, oldestKey)
}

// RateLimit returns a middleware that enforces a token-bucket rate limit
// per client. keyFn selects the bucket; nil keys by client IP.
func RateLimit(limit int, window time.Duration, keyFn func(*gin.Context) string) gin.HandlerFunc {
	limiter := newRateLimiter(limit, window)
	return func(c *gin.Context) {
		key := ""
		if keyFn != nil {
			key = keyFn(c)
		}
		if key == "" {
			key = c.ClientIP()
		}
		if !limiter.allow(key) {
			RespondError(c, http.StatusTooManyRequests, ErrCodeRateLimitExceeded, "Rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}
