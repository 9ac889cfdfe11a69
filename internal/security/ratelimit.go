package security

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimiter decides whether a caller identified by key may proceed
type RateLimiter interface {
	Allow(ctx context.Context, key string) (*RateLimitResult, error)
	Reset(ctx context.Context, key string) error
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed    bool          `json:"allowed"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"retry_after"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled" toml:"enabled"`
	RequestsPerMinute int           `yaml:"requests_per_minute" toml:"requests_per_minute"`
	BurstSize         int           `yaml:"burst_size" toml:"burst_size"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval" toml:"cleanup_interval"`

	// IdleTimeout drops a caller's limiter after this long without requests
	IdleTimeout time.Duration `yaml:"idle_timeout" toml:"idle_timeout"`
}

// InMemoryRateLimiter keeps one token bucket per key
type InMemoryRateLimiter struct {
	config *RateLimitConfig
	logger *logrus.Logger

	mu       sync.Mutex
	limiters map[string]*clientLimiter

	stopOnce sync.Once
	stop     chan struct{}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewInMemoryRateLimiter creates a limiter and starts its cleanup loop
func NewInMemoryRateLimiter(config *RateLimitConfig, logger *logrus.Logger) *InMemoryRateLimiter {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 60
	}
	if config.BurstSize <= 0 {
		config.BurstSize = config.RequestsPerMinute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 10 * time.Minute
	}

	rl := &InMemoryRateLimiter{
		config:   config,
		logger:   logger,
		limiters: make(map[string]*clientLimiter),
		stop:     make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow consumes one token for key
func (rl *InMemoryRateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	if !rl.config.Enabled {
		return &RateLimitResult{Allowed: true, Limit: rl.config.BurstSize, Remaining: rl.config.BurstSize}, nil
	}

	limiter := rl.limiterFor(key)
	now := time.Now()

	reservation := limiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		rl.logger.WithFields(logrus.Fields{
			"key":         maskKey(key),
			"retry_after": delay,
		}).Warn("Rate limit exceeded")
		return &RateLimitResult{Allowed: false, Limit: rl.config.BurstSize, RetryAfter: delay}, nil
	}

	remaining := int(math.Max(0, math.Floor(limiter.TokensAt(now))))
	return &RateLimitResult{Allowed: true, Limit: rl.config.BurstSize, Remaining: remaining}, nil
}

// Reset forgets key's bucket
func (rl *InMemoryRateLimiter) Reset(ctx context.Context, key string) error {
	rl.mu.Lock()
	delete(rl.limiters, key)
	rl.mu.Unlock()
	return nil
}

func (rl *InMemoryRateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cl, ok := rl.limiters[key]
	if !ok {
		perSecond := rate.Limit(float64(rl.config.RequestsPerMinute) / 60)
		cl = &clientLimiter{limiter: rate.NewLimiter(perSecond, rl.config.BurstSize)}
		rl.limiters[key] = cl
	}
	cl.lastSeen = time.Now()
	return cl.limiter
}

func (rl *InMemoryRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stop:
			return
		}
	}
}

func (rl *InMemoryRateLimiter) cleanup(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for key, cl := range rl.limiters {
		if now.Sub(cl.lastSeen) > rl.config.IdleTimeout {
			delete(rl.limiters, key)
			removed++
		}
	}
	if removed > 0 {
		rl.logger.WithField("removed_limiters", removed).Debug("Rate limit cleanup completed")
	}
	return removed
}

// Stop ends the cleanup loop
func (rl *InMemoryRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// RateLimitMiddleware answers 429 once a caller runs out of tokens
func RateLimitMiddleware(rateLimiter RateLimiter, keyExtractor func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyExtractor(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			result, err := rateLimiter.Allow(r.Context(), key)
			if err != nil {
				writeJSONError(w, http.StatusInternalServerError, "rate_limit_error", "Rate limiting error")
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

			if !result.Allowed {
				retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeErrorBody(w, http.StatusTooManyRequests, "rate_limit_error", "Rate limit exceeded", retryAfter, nil)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// DefaultKeyExtractor keys on the authenticated user, or the client IP
func DefaultKeyExtractor(r *http.Request) string {
	if authInfo, ok := GetAuthInfo(r.Context()); ok {
		return "user:" + authInfo.UserID
	}
	return "ip:" + getClientIPFromRequest(r)
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****"
}
