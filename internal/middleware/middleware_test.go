package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/internal/auth"
	"marketchat/internal/ratelimit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitAllowsAndDenies(t *testing.T) {
	limiter := ratelimit.New()
	h := RateLimit(limiter, ratelimit.ClassAuth)(okHandler())

	var rec *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		rec = httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = "10.0.0.1:54321"
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
		assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "retry_after")
}

func TestRateLimitKeysByUserOverAddress(t *testing.T) {
	limiter := ratelimit.New()
	h := RateLimit(limiter, ratelimit.ClassAuth)(okHandler())

	// Exhaust one user's bucket.
	for i := 0; i < 6; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/x", nil)
		req.RemoteAddr = "10.0.0.1:1111"
		req = req.WithContext(context.WithValue(req.Context(), auth.UserIDKey, int64(7)))
		h.ServeHTTP(rec, req)
	}

	// A different user from the same address is untouched.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.RemoteAddr = "10.0.0.1:1111"
	req = req.WithContext(context.WithValue(req.Context(), auth.UserIDKey, int64(8)))
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := CORS("http://localhost:5173")(okHandler())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/rooms", nil)
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}
