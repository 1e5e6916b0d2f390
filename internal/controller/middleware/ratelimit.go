package middleware

import (
	"net/http"
	"sync"
	"time"

	"sceneplane/internal/store"

	"golang.org/x/time/rate"
)

// RateLimiter throttles requests per authenticated user using the user's
// configured rate and burst. Limiters are rebuilt after the TTL so changed
// limits take effect without a restart.
type RateLimiter struct {
	ttl      time.Duration
	now      func() time.Time
	limiters sync.Map // user id -> *cachedLimiter
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithTTL sets how long a user's limiter is reused.
func WithTTL(ttl time.Duration) RateLimiterOption {
	return func(rl *RateLimiter) { rl.ttl = ttl }
}

// NewRateLimiter creates a per-user rate limiter.
func NewRateLimiter(opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{ttl: 5 * time.Minute, now: time.Now}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Middleware must run after AuthMiddleware.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok {
				writeError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			// RateLimit=0 means unlimited
			if user.RateLimit > 0 && !rl.limiter(user).Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

func (rl *RateLimiter) limiter(user *store.User) *rate.Limiter {
	now := rl.now()
	if v, ok := rl.limiters.Load(user.ID); ok {
		cached := v.(*cachedLimiter)
		if now.Before(cached.expiresAt) {
			return cached.limiter
		}
	}

	burst := user.RateLimitBurst
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(user.RateLimit), burst)
	rl.limiters.Store(user.ID, &cachedLimiter{limiter: limiter, expiresAt: now.Add(rl.ttl)})
	return limiter
}

