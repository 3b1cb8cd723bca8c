package ratelimit

import (
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mocaca/mocaca"
)

// Config holds the configuration settings for rate limiting.
type Config struct {
	// Rate is the number of events allowed per second for one key.
	Rate rate.Limit

	// Burst is the number of events a key may spend at once.
	Burst int

	// KeyFunc picks the bucket for a request. Defaults to the client IP.
	KeyFunc func(c *mocaca.Ctx) string

	// ExpiresIn is how long an idle key keeps its bucket.
	ExpiresIn time.Duration
}

// ErrLimiter is the HTTP error returned when a client exceeds the rate limit.
var ErrLimiter = mocaca.NewHttpError(mocaca.StatusTooManyRequests, "too many requests")

// DefaultConfig returns a Config allowing 5 requests per minute per IP with
// a burst of 5.
func DefaultConfig() Config {
	return Config{
		Rate:      rate.Every(12 * time.Second),
		Burst:     5,
		KeyFunc:   func(c *mocaca.Ctx) string { return c.IP() },
		ExpiresIn: time.Hour,
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per key. Idle buckets are dropped on a
// later request once they have been unused for ExpiresIn.
type Limiter struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
}

// NewLimiter creates a Limiter from cfg, filling zero fields from
// DefaultConfig.
func NewLimiter(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.Rate == 0 {
		cfg.Rate = def.Rate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = def.KeyFunc
	}
	if cfg.ExpiresIn <= 0 {
		cfg.ExpiresIn = def.ExpiresIn
	}
	return &Limiter{
		cfg:       cfg,
		now:       time.Now,
		visitors:  make(map[string]*visitor),
		lastSweep: time.Now(),
	}
}

// Allow reports whether the request for key may proceed now.
func (l *Limiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	if now.Sub(l.lastSweep) >= l.cfg.ExpiresIn {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > l.cfg.ExpiresIn {
				delete(l.visitors, k)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.cfg.Rate, l.cfg.Burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	l.mu.Unlock()

	return v.limiter.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// Handler returns the middleware. Rejected requests get 429 with a
// Retry-After hint and never reach the next handler.
func (l *Limiter) Handler() mocaca.Middleware {
	retryAfter := "1"
	if l.cfg.Rate > 0 && l.cfg.Rate != rate.Inf {
		secs := int(1/float64(l.cfg.Rate) + 0.999)
		if secs < 1 {
			secs = 1
		}
		retryAfter = strconv.Itoa(secs)
	}

	return func(c *mocaca.Ctx) {
		if !l.Allow(l.cfg.KeyFunc(c)) {
			c.Set(mocaca.HeaderRetryAfter, retryAfter)
			c.Error(ErrLimiter)
			return
		}
		c.Next()
	}
}

// New creates rate limiting middleware. It accepts an optional custom
// Config; if none is provided, DefaultConfig is used.
func New(config ...Config) mocaca.Middleware {
	cfg := DefaultConfig()
	if len(config) > 0 {
		cfg = config[0]
	}
	return NewLimiter(cfg).Handler()
}
