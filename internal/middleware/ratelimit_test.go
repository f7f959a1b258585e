package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func post(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = remote
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRateLimiter_WithinBurst(t *testing.T) {
	l := NewRateLimiter(1, 5, time.Minute, newTestLogger())
	defer l.Stop()
	h := l.Middleware(okHandler())

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, post(h, "192.168.1.1:12345").Code, "request %d should pass", i+1)
	}
}

func TestRateLimiter_ExceedingBurst(t *testing.T) {
	l := NewRateLimiter(0.01, 2, time.Minute, newTestLogger())
	defer l.Stop()
	h := l.Middleware(okHandler())

	assert.Equal(t, http.StatusOK, post(h, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusOK, post(h, "10.0.0.1:1").Code)

	rr := post(h, "10.0.0.1:1")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Contains(t, rr.Body.String(), "RATE_LIMITED")
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, post(h, "10.0.0.2:1").Code, "other IPs have their own bucket")
}

func TestRateLimiter_Cleanup(t *testing.T) {
	l := NewRateLimiter(1, 1, time.Minute, newTestLogger())
	defer l.Stop()
	now := time.Now()
	l.nowFunc = func() time.Time { return now }
	h := l.Middleware(okHandler())

	post(h, "10.0.0.1:1")
	now = now.Add(30 * time.Second)
	post(h, "10.0.0.2:1")
	assert.Equal(t, 2, l.len())

	now = now.Add(45 * time.Second)
	l.cleanup()
	assert.Equal(t, 1, l.len())
}
