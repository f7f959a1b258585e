package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenExpiringAt(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func guarded(now time.Time) http.Handler {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return RouteGuard(func() time.Time { return now })(ok)
}

func TestRouteGuard(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	valid := tokenExpiringAt(t, now.Add(time.Hour))
	expired := tokenExpiringAt(t, now.Add(-time.Minute))

	tests := []struct {
		name     string
		target   string
		cookie   *string
		status   int
		location string
	}{
		{name: "protected without cookie", target: "/profile", status: http.StatusFound, location: "/login?next=%2Fprofile"},
		{name: "protected keeps query", target: "/orders?page=2", status: http.StatusFound, location: "/login?next=%2Forders%3Fpage%3D2"},
		{name: "protected subpath", target: "/b2b-dashboard/invoices", status: http.StatusFound, location: "/login?next=%2Fb2b-dashboard%2Finvoices"},
		{name: "protected with empty cookie", target: "/profile", cookie: ptr(""), status: http.StatusFound, location: "/login?next=%2Fprofile"},
		{name: "protected with expired cookie", target: "/profile", cookie: &expired, status: http.StatusFound, location: "/login?next=%2Fprofile"},
		{name: "protected with valid cookie", target: "/profile", cookie: &valid, status: http.StatusOK},
		{name: "protected with opaque cookie", target: "/orders/7", cookie: ptr("opaque-refresh"), status: http.StatusOK},
		{name: "prefix lookalike is public", target: "/profiles-of-athletes", status: http.StatusOK},
		{name: "public page", target: "/catalog", status: http.StatusOK},
		{name: "auth page as guest", target: "/login", status: http.StatusOK},
		{name: "auth page with expired cookie", target: "/register", cookie: &expired, status: http.StatusOK},
		{name: "auth page when signed in", target: "/login", cookie: &valid, status: http.StatusFound, location: "/"},
		{name: "auth page honours next", target: "/login?next=%2Forders%3Fpage%3D2", cookie: &valid, status: http.StatusFound, location: "/orders?page=2"},
		{name: "auth page rejects external next", target: "/login?next=%2F%2Fevil.com", cookie: &valid, status: http.StatusFound, location: "/"},
		{name: "auth page avoids auth next", target: "/password-reset?next=%2Flogin", cookie: &valid, status: http.StatusFound, location: "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.cookie != nil {
				req.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: *tt.cookie})
			}
			rr := httptest.NewRecorder()

			guarded(now).ServeHTTP(rr, req)

			assert.Equal(t, tt.status, rr.Code)
			if tt.location != "" {
				assert.Equal(t, tt.location, rr.Header().Get("Location"))
			}
		})
	}
}

func ptr(s string) *string { return &s }

func TestSafeRedirect(t *testing.T) {
	tests := map[string]string{
		"":                       "/",
		"/":                      "/",
		"/orders":                "/orders",
		"/orders?page=2#top":     "/orders?page=2#top",
		"orders":                 "/",
		"//evil.com":             "/",
		"/\\evil.com":            "/",
		"/path\\with\\backslash": "/",
		"https://evil.com":       "/",
		"javascript:alert(1)":    "/",
		"/ok\r\nSet-Cookie: x=1": "/",
		"/tab\tseparated":        "/",
		" /leading-space":        "/",
		"/catalog/balls?size=5":  "/catalog/balls?size=5",
	}
	for in, want := range tests {
		assert.Equal(t, want, SafeRedirect(in), "SafeRedirect(%q)", in)
	}
}
