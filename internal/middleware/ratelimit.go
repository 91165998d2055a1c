package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter ограничивает частоту запросов одного пользователя.
// Должен стоять после AuthMiddleware.
type RateLimiter struct {
	mu       sync.Mutex
	perSec   rate.Limit
	burst    int
	visitors map[int64]*limiterEntry
	swept    time.Time
	now      func() time.Time
}

// NewRateLimiter создаёт ограничитель на requestsPerMinute запросов в минуту.
// Неположительное значение отключает ограничение.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	burst := requestsPerMinute / 6
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		perSec:   rate.Limit(float64(requestsPerMinute) / 60),
		burst:    burst,
		visitors: make(map[int64]*limiterEntry),
		now:      time.Now,
	}
}

// Middleware отвечает 429, если пользователь превысил лимит.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := GetUserIDFromContext(r.Context())
		if !ok || rl.perSec <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		if !rl.limiter(userID).Allow() {
			w.Header().Set("Retry-After", "1")
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) limiter(userID int64) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.swept) > limiterIdleTTL {
		for id, e := range rl.visitors {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(rl.visitors, id)
			}
		}
		rl.swept = now
	}

	e, ok := rl.visitors[userID]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.perSec, rl.burst)}
		rl.visitors[userID] = e
	}
	e.lastSeen = now
	return e.limiter
}
