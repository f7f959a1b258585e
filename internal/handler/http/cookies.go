package http

import (
	"net/http"
	"time"

	"github.com/utafrali/storefront/internal/domain"
)

// Cookie names shared with the renderer.
const (
	RefreshCookieName = "refreshToken"
	VisitorCookieName = "sf_vid"
)

const visitorCookieMaxAge = 365 * 24 * time.Hour

// CookieConfig controls the attributes of the cookies the storefront sets.
type CookieConfig struct {
	Secure bool
	Domain string
	// SessionTTL is the refresh cookie lifetime for tokens without a JWT exp.
	SessionTTL time.Duration
}

func (c CookieConfig) cookie(name, value string, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   int(maxAge / time.Second),
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func (c CookieConfig) visitorCookie(id string) *http.Cookie {
	return c.cookie(VisitorCookieName, id, visitorCookieMaxAge)
}

// refreshCookie mirrors token. The cookie expires with the token's JWT exp
// when it has one.
func (c CookieConfig) refreshCookie(token string, now time.Time) *http.Cookie {
	maxAge := c.SessionTTL
	if exp, ok := domain.TokenExpiry(token); ok {
		maxAge = exp.Sub(now)
	}
	if maxAge < time.Second {
		maxAge = time.Second
	}
	return c.cookie(RefreshCookieName, token, maxAge)
}

func (c CookieConfig) clearRefreshCookie() *http.Cookie {
	ck := c.cookie(RefreshCookieName, "", 0)
	ck.MaxAge = -1
	return ck
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
