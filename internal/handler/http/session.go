package http

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/utafrali/storefront/internal/visitor"
	"github.com/utafrali/storefront/pkg/httputil"
	"github.com/utafrali/storefront/pkg/logger"
	pkgmiddleware "github.com/utafrali/storefront/pkg/middleware"
)

// SessionMiddleware resolves the visitor behind each request, waits until
// the visitor's session is initialized and keeps the refreshToken cookie in
// step with the session on every response.
type SessionMiddleware struct {
	registry *visitor.Registry
	cookies  CookieConfig
	logger   *slog.Logger
	nowFunc  func() time.Time
}

// NewSessionMiddleware creates a SessionMiddleware.
func NewSessionMiddleware(registry *visitor.Registry, cookies CookieConfig, log *slog.Logger) *SessionMiddleware {
	return &SessionMiddleware{
		registry: registry,
		cookies:  cookies,
		logger:   log,
		nowFunc:  time.Now,
	}
}

// Handler wraps next.
func (m *SessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := cookieValue(r, VisitorCookieName)
		issue := !visitor.ValidID(id)
		if issue {
			id = visitor.NewVisitorID()
		}

		ctx := logger.WithVisitorID(r.Context(), id)
		incoming := cookieValue(r, RefreshCookieName)

		client, err := m.registry.Resolve(ctx, id, incoming)
		if err != nil {
			httputil.WriteError(w, r.WithContext(ctx), err, m.logger)
			return
		}
		if err := client.Ready(ctx); err != nil {
			httputil.WriteError(w, r.WithContext(ctx), err, m.logger)
			return
		}

		attrs := []any{slog.String("visitor_id", id)}
		if u := client.Store.User(); u != nil {
			ctx = logger.WithUserID(ctx, string(u.ID))
			attrs = append(attrs, slog.String("user_id", string(u.ID)))
		}
		bound := &boundSession{client: client, issue: issue}
		r = pkgmiddleware.EnrichLogger(r.WithContext(withSession(ctx, bound)), attrs...)

		cw := &cookieWriter{
			ResponseWriter: w,
			session:        bound,
			cookies:        m.cookies,
			incoming:       incoming,
			now:            m.nowFunc,
		}
		next.ServeHTTP(cw, r)
		cw.sync()
	})
}

// cookieWriter sets the visitor and refreshToken cookies just before the
// response headers are sent, once the handler has had a chance to change the
// session.
type cookieWriter struct {
	http.ResponseWriter
	session  *boundSession
	cookies  CookieConfig
	incoming string
	now      func() time.Time
	once     sync.Once
}

func (w *cookieWriter) sync() {
	w.once.Do(func() {
		client, issue := w.session.get()
		if issue {
			http.SetCookie(w.ResponseWriter, w.cookies.visitorCookie(client.ID))
		}
		token, known := client.RefreshCookie()
		if !known || token == w.incoming {
			return
		}
		if token == "" {
			http.SetCookie(w.ResponseWriter, w.cookies.clearRefreshCookie())
			return
		}
		http.SetCookie(w.ResponseWriter, w.cookies.refreshCookie(token, w.now()))
	})
}

func (w *cookieWriter) WriteHeader(code int) {
	w.sync()
	w.ResponseWriter.WriteHeader(code)
}

func (w *cookieWriter) Write(b []byte) (int, error) {
	w.sync()
	return w.ResponseWriter.Write(b)
}

func (w *cookieWriter) Flush() {
	w.sync()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *cookieWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
