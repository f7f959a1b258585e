package http

import (
	"errors"
	"net/http"
	"strings"
)

var errNoClient = errors.New("no visitor client in request context")

// ContentTypeJSON enforces that requests with a body have Content-Type: application/json.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 || r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if !strings.HasPrefix(ct, "application/json") {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnsupportedMediaType)
				_, _ = w.Write([]byte(`{"error":{"code":"UNSUPPORTED_MEDIA_TYPE","message":"Content-Type must be application/json"}}`))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Headers the renderer reads to decide what to show.
const (
	HeaderAuthenticated = "X-Storefront-Authenticated"
	HeaderRole          = "X-Storefront-Role"
)

// sessionHeaders replaces any client-supplied session headers with the
// visitor's actual state before the request reaches the renderer.
func sessionHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Header.Del(HeaderAuthenticated)
		r.Header.Del(HeaderRole)

		if client, ok := ClientFromContext(r.Context()); ok && client.Store.IsAuthenticated() {
			r.Header.Set(HeaderAuthenticated, "true")
			if u := client.Store.User(); u != nil {
				r.Header.Set(HeaderRole, u.Role)
			}
		} else {
			r.Header.Set(HeaderAuthenticated, "false")
		}
		next.ServeHTTP(w, r)
	})
}
