package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func requestAs(userID int64) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/user/score", nil)
	return r.WithContext(context.WithValue(r.Context(), userIDKey, userID))
}

func TestRateLimiter_PerUserBudget(t *testing.T) {
	rl := NewRateLimiter(12)
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, requestAs(1))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, requestAs(2))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiter_DisabledAndAnonymous(t *testing.T) {
	called := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called++ })

	disabled := NewRateLimiter(0).Middleware(next)
	for i := 0; i < 5; i++ {
		disabled.ServeHTTP(httptest.NewRecorder(), requestAs(1))
	}

	anonymous := NewRateLimiter(1).Middleware(next)
	for i := 0; i < 5; i++ {
		anonymous.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}

	assert.Equal(t, 10, called)
}

func TestRateLimiter_ForgetsIdleUsers(t *testing.T) {
	rl := NewRateLimiter(60)
	now := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.limiter(1)
	now = now.Add(limiterIdleTTL + time.Minute)
	rl.limiter(2)

	_, ok := rl.visitors[1]
	assert.False(t, ok)
	assert.Len(t, rl.visitors, 1)
}
