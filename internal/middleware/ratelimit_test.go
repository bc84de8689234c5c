package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddleware_UnlimitedGeneral(t *testing.T) {
	mw := NewRateLimitMiddleware(0, 1, 1, false)
	handler := mw.Handler(okHandler())

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest("GET", "/api/v1/players", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("Request %d failed with status %d", i, rec.Code)
		}
	}
}

func TestRateLimitMiddleware_LimitedAuth(t *testing.T) {
	mw := NewRateLimitMiddleware(0, 1, 0, false)
	handler := mw.Handler(okHandler())

	// Burst equals the per-minute rate, so the second immediate request is refused.
	req1 := httptest.NewRequest("POST", "/api/v1/auth/login", nil)
	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req1)
	assert.Equal(t, http.StatusOK, rec1.Code)

	req2 := httptest.NewRequest("POST", "/api/v1/auth/login", nil)
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusTooManyRequests, rec2.Code)
	assert.Equal(t, "60", rec2.Header().Get("Retry-After"))
}

func TestRateLimitMiddleware_IngestBucketIsSeparate(t *testing.T) {
	mw := NewRateLimitMiddleware(0, 1, 2, false)
	handler := mw.Handler(okHandler())

	serve := func(path string) int {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("POST", path, nil))
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, serve("/api/v1/auth/login"))
	assert.Equal(t, http.StatusOK, serve("/api/v1/push"))
	assert.Equal(t, http.StatusOK, serve("/api/v1/push_position"))
	assert.Equal(t, http.StatusTooManyRequests, serve("/api/v1/webhook-alert"))
}

func TestRateLimitMiddleware_StreamExempt(t *testing.T) {
	mw := NewRateLimitMiddleware(1, 1, 1, false)
	handler := mw.Handler(okHandler())

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/events", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimitMiddleware_ForwardedForNeedsTrust(t *testing.T) {
	serve := func(handler http.Handler, forwarded string) int {
		req := httptest.NewRequest("POST", "/api/v1/auth/login", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	untrusted := NewRateLimitMiddleware(0, 1, 0, false).Handler(okHandler())
	assert.Equal(t, http.StatusOK, serve(untrusted, "1.1.1.1"))
	assert.Equal(t, http.StatusTooManyRequests, serve(untrusted, "2.2.2.2"))

	trusted := NewRateLimitMiddleware(0, 1, 0, true).Handler(okHandler())
	assert.Equal(t, http.StatusOK, serve(trusted, "1.1.1.1"))
	assert.Equal(t, http.StatusOK, serve(trusted, "2.2.2.2, 10.0.0.1"))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, BucketExempt, Classify("/health"))
	assert.Equal(t, BucketExempt, Classify("/api/v1/events"))
	assert.Equal(t, BucketAuth, Classify("/api/v1/auth/refresh"))
	assert.Equal(t, BucketIngest, Classify("/api/v1/ingest/ws"))
	assert.Equal(t, BucketGeneral, Classify("/api/v1/players/live"))
}
