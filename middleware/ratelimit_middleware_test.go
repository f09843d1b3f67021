package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/upb/secretmanager/models"
	"github.com/upb/secretmanager/services/ratelimit"
	"go.uber.org/zap"
)

type MockRateLimiter struct {
	mock.Mock
}

func (m *MockRateLimiter) CheckLimit(key string) ratelimit.Result {
	return m.Called(key).Get(0).(ratelimit.Result)
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Run("authenticated callers are keyed by subject", func(t *testing.T) {
		limiter := new(MockRateLimiter)
		limiter.On("CheckLimit", "sub:sub-1").Return(ratelimit.Result{Allowed: true, Remaining: 4})

		req := httptest.NewRequest(http.MethodGet, "/api/requests", nil)
		req = req.WithContext(WithIdentity(req.Context(), models.NewIdentity("sub-1", "alice", "", nil)))
		w := httptest.NewRecorder()

		NewRateLimitMiddleware(limiter, zap.NewNop()).Limit(okHandler()).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "4", w.Header().Get("X-RateLimit-Remaining"))
		limiter.AssertExpectations(t)
	})

	t.Run("anonymous callers are keyed by ip", func(t *testing.T) {
		limiter := new(MockRateLimiter)
		limiter.On("CheckLimit", "ip:192.0.2.1").Return(ratelimit.Result{Allowed: true})

		req := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
		w := httptest.NewRecorder()

		NewRateLimitMiddleware(limiter, zap.NewNop()).Limit(okHandler()).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		limiter.AssertExpectations(t)
	})

	t.Run("exceeded budget returns 429 with Retry-After", func(t *testing.T) {
		limiter := new(MockRateLimiter)
		limiter.On("CheckLimit", mock.Anything).Return(ratelimit.Result{Allowed: false, RetryAfter: 1500 * time.Millisecond})

		req := httptest.NewRequest(http.MethodGet, "/api/requests", nil)
		w := httptest.NewRecorder()

		NewRateLimitMiddleware(limiter, zap.NewNop()).Limit(okHandler()).ServeHTTP(w, req)

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "2", w.Header().Get("Retry-After"))
		assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
		assert.Contains(t, w.Body.String(), "rate_limit_exceeded")
	})

	t.Run("real limiter blocks after burst", func(t *testing.T) {
		svc := ratelimit.NewService(60, 2, zap.NewNop())
		handler := NewRateLimitMiddleware(svc, zap.NewNop()).Limit(okHandler())

		codes := make([]int, 0, 3)
		for i := 0; i < 3; i++ {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/requests", nil))
			codes = append(codes, w.Code)
		}
		assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	})
}
