package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// KeyFunc picks the limiter for a request. Defaults to the client IP.
	KeyFunc func(c echo.Context) string
	// IdleTTL is how long an unused limiter is kept. Defaults to 10 minutes.
	IdleTTL time.Duration
	// MaxKeys caps the number of limiters held at once. When full, the least
	// recently seen limiter is dropped. Defaults to 100000.
	MaxKeys int
}

// LoginRateLimitConfig throttles the login form per client IP. The submitted
// email is never part of the key.
func LoginRateLimitConfig(rps float64) RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: rps, BurstSize: 5}
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 100, BurstSize: 200}
}

func (cfg RateLimitConfig) withDefaults() RateLimitConfig {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 100_000
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 1
	}
	return cfg
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterStore implements echomw.RateLimiterStore with one rate.Limiter per
// key. Idle limiters are swept at most once per IdleTTL.
type limiterStore struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	idle      time.Duration
	maxKeys   int
	lastSweep time.Time
	now       func() time.Time
}

func newLimiterStore(cfg RateLimitConfig) *limiterStore {
	return &limiterStore{
		visitors:  make(map[string]*visitor),
		limit:     rate.Limit(cfg.RequestsPerSecond),
		burst:     cfg.BurstSize,
		idle:      cfg.IdleTTL,
		maxKeys:   cfg.MaxKeys,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (s *limiterStore) Allow(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) >= s.idle {
		s.sweep(now)
	}
	v, ok := s.visitors[key]
	if !ok {
		if len(s.visitors) >= s.maxKeys {
			s.dropOldest()
		}
		v = &visitor{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1), nil
}

// retryAfter returns the whole seconds until key has a token again.
func (s *limiterStore) retryAfter(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.visitors[key]
	if !ok || s.limit <= 0 {
		return 1
	}
	missing := 1 - v.limiter.TokensAt(s.now())
	if missing <= 0 {
		return 1
	}
	return int(math.Ceil(missing / float64(s.limit)))
}

func (s *limiterStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visitors)
}

func (s *limiterStore) sweep(now time.Time) {
	for key, v := range s.visitors {
		if now.Sub(v.lastSeen) >= s.idle {
			delete(s.visitors, key)
		}
	}
	s.lastSweep = now
}

func (s *limiterStore) dropOldest() {
	var (
		oldestKey string
		oldest    time.Time
	)
	for key, v := range s.visitors {
		if oldestKey == "" || v.lastSeen.Before(oldest) {
			oldestKey, oldest = key, v.lastSeen
		}
	}
	delete(s.visitors, oldestKey)
}

// RateLimit limits requests per key with echo's RateLimiter middleware over
// a bounded limiterStore. Refused requests get 429 with Retry-After.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	return rateLimit(newLimiterStore(cfg.withDefaults()), cfg)
}

func rateLimit(store *limiterStore, cfg RateLimitConfig) echo.MiddlewareFunc {
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = func(c echo.Context) string { return c.RealIP() }
	}

	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return keyFunc(c), nil
		},
		BeforeFunc: func(c echo.Context) {
			c.Response().Header().Set("X-RateLimit-Limit", limit)
		},
		DenyHandler: func(c echo.Context, key string, _ error) error {
			h := c.Response().Header()
			h.Set("Retry-After", strconv.Itoa(store.retryAfter(key)))
			h.Set("X-RateLimit-Remaining", "0")
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		},
	})
}
