package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/odontoclinic/clinic/internal/platform/auth"
)

// RateLimitConfig bounds requests per caller. A caller is a user within a
// clinic, or the remote IP when the request is anonymous.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
	}
}

// bucket is a caller's token balance as of its last request.
type bucket struct {
	tokens float64
	seen   time.Time
}

// limiter keeps one bucket per caller under a single lock. Buckets idle for a
// full refill window are swept, since a fresh bucket starts full anyway.
type limiter struct {
	cfg     RateLimitConfig
	now     func() time.Time
	mu      sync.Mutex
	buckets map[string]*bucket
	swept   time.Time
}

func newLimiter(cfg RateLimitConfig) *limiter {
	return &limiter{
		cfg:     cfg,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// take spends one token from key's bucket. It reports the whole tokens left,
// or how long until the next token when the bucket is empty.
func (l *limiter) take(key string) (remaining int, wait time.Duration, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	burst := float64(l.cfg.BurstSize)
	b, found := l.buckets[key]
	if !found {
		b = &bucket{tokens: burst, seen: now}
		l.buckets[key] = b
	}
	b.tokens = math.Min(burst, b.tokens+now.Sub(b.seen).Seconds()*l.cfg.RequestsPerSecond)
	b.seen = now

	if b.tokens >= 1 {
		b.tokens--
		return int(b.tokens), 0, true
	}
	if l.cfg.RequestsPerSecond <= 0 {
		return 0, time.Second, false
	}
	return 0, time.Duration((1 - b.tokens) / l.cfg.RequestsPerSecond * float64(time.Second)), false
}

// sweep drops buckets untouched for longer than it takes to refill one.
// With a zero rate buckets never refill, so they are kept.
func (l *limiter) sweep(now time.Time) {
	if l.cfg.RequestsPerSecond <= 0 {
		return
	}
	window := time.Duration(float64(l.cfg.BurstSize) / l.cfg.RequestsPerSecond * float64(time.Second))
	if now.Sub(l.swept) < window {
		return
	}
	l.swept = now
	for key, b := range l.buckets {
		if now.Sub(b.seen) >= window {
			delete(l.buckets, key)
		}
	}
}

// rateLimitKey buckets authenticated callers by user and anonymous ones by IP,
// both scoped to the clinic.
func rateLimitKey(c echo.Context) string {
	key := c.RealIP()
	if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
		key = "user:" + uid
	}
	if clinic, ok := c.Get("jwt_clinic_id").(string); ok && clinic != "" {
		key = clinic + ":" + key
	}
	return key
}

// RateLimit applies a per-caller token bucket and reports the balance in
// X-RateLimit-* headers.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	l := newLimiter(cfg)
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			remaining, wait, ok := l.take(rateLimitKey(c))
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !ok {
				h.Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}

func retryAfterSeconds(wait time.Duration) int {
	if s := int(math.Ceil(wait.Seconds())); s > 1 {
		return s
	}
	return 1
}
