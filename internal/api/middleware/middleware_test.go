package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/dyncontent/internal/domain"
	"github.com/Rrens/dyncontent/internal/security"
)

func capture(got *domain.Principal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = GetPrincipal(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthMiddleware_Identify(t *testing.T) {
	jwtManager := security.NewJWTManager("test-secret-key-with-32-chars!!", "", time.Minute)
	m := NewAuthMiddleware(jwtManager)
	token, err := jwtManager.GenerateToken("U1")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
		want   domain.Principal
	}{
		{"anonymous", "", http.StatusNoContent, domain.AnonymousPrincipal},
		{"bearer", "Bearer " + token, http.StatusNoContent, domain.UserPrincipal("U1")},
		{"bad scheme", "Basic abc", http.StatusUnauthorized, domain.Principal{}},
		{"bad token", "Bearer nope", http.StatusUnauthorized, domain.Principal{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got domain.Principal
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			m.Identify(capture(&got)).ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequireUser(t *testing.T) {
	var got domain.Principal
	h := RequireUser(capture(&got))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithPrincipal(req.Context(), domain.UserPrincipal("U1")))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

// MockLimiter mocks Limiter
type MockLimiter struct {
	mock.Mock
}

func (m *MockLimiter) Allow(ctx context.Context, key string) (bool, int, time.Time, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Int(1), args.Get(2).(time.Time), args.Error(3)
}

func (m *MockLimiter) Limit() int {
	args := m.Called()
	return args.Int(0)
}

func TestRateLimitMiddleware(t *testing.T) {
	reset := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	t.Run("keyed by user", func(t *testing.T) {
		limiter := new(MockLimiter)
		limiter.On("Allow", mock.Anything, "user:U1").Return(true, 9, reset, nil)
		limiter.On("Limit").Return(10)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithPrincipal(req.Context(), domain.UserPrincipal("U1")))
		rec := httptest.NewRecorder()
		NewRateLimitMiddleware(limiter).Limit(ok).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "9", rec.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, "2024-01-01T00:01:00Z", rec.Header().Get("X-RateLimit-Reset"))
	})

	t.Run("anonymous keyed by address", func(t *testing.T) {
		limiter := new(MockLimiter)
		limiter.On("Allow", mock.Anything, "anon:192.0.2.1").Return(false, 0, reset, nil)
		limiter.On("Limit").Return(10)

		rec := httptest.NewRecorder()
		NewRateLimitMiddleware(limiter).Limit(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	})

	t.Run("fails open", func(t *testing.T) {
		limiter := new(MockLimiter)
		limiter.On("Allow", mock.Anything, mock.Anything).Return(false, 0, time.Time{}, errors.New("redis down"))

		rec := httptest.NewRecorder()
		NewRateLimitMiddleware(limiter).Limit(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
		limiter.AssertNotCalled(t, "Limit")
	})
}

func TestLogger_PassesThrough(t *testing.T) {
	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
