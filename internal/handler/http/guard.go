package http

import (
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/utafrali/storefront/internal/domain"
)

// Route classes enforced by RouteGuard.
var (
	ProtectedPrefixes = []string{"/profile", "/orders", "/b2b-dashboard"}
	AuthOnlyPrefixes  = []string{"/login", "/register", "/password-reset"}
)

const loginPath = "/login"

func matchesAny(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// hasRefreshCookie reports whether r carries a refreshToken cookie that is
// non-empty and, if it is a JWT, not yet expired.
func hasRefreshCookie(r *http.Request, now time.Time) bool {
	v := cookieValue(r, RefreshCookieName)
	return v != "" && !domain.TokenExpired(v, now)
}

// RouteGuard redirects page requests by cookie alone: visitors without a
// refresh cookie are sent from protected pages to the login page, and
// visitors with one are sent away from the auth-only pages.
func RouteGuard(nowFunc func() time.Time) func(http.Handler) http.Handler {
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			switch {
			case matchesAny(path, ProtectedPrefixes):
				if !hasRefreshCookie(r, nowFunc()) {
					target := loginPath + "?next=" + url.QueryEscape(r.URL.RequestURI())
					http.Redirect(w, r, target, http.StatusFound)
					return
				}
			case matchesAny(path, AuthOnlyPrefixes):
				if hasRefreshCookie(r, nowFunc()) {
					target := SafeRedirect(r.URL.Query().Get("next"))
					if u, err := url.Parse(target); err == nil && matchesAny(u.Path, AuthOnlyPrefixes) {
						target = "/"
					}
					http.Redirect(w, r, target, http.StatusFound)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SafeRedirect returns next if it is a same-origin relative path and "/"
// otherwise. Protocol-relative URLs, backslashes, schemes and control
// characters are rejected.
func SafeRedirect(next string) string {
	const fallback = "/"
	if next == "" || next[0] != '/' {
		return fallback
	}
	if strings.HasPrefix(next, "//") {
		return fallback
	}
	for _, r := range next {
		if r == '\\' || unicode.IsControl(r) {
			return fallback
		}
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" || u.User != nil {
		return fallback
	}
	return next
}
