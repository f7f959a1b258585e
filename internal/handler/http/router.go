package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/storefront/internal/config"
	"github.com/utafrali/storefront/internal/middleware"
	"github.com/utafrali/storefront/internal/proxy"
	"github.com/utafrali/storefront/internal/visitor"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/health"
	"github.com/utafrali/storefront/pkg/httputil"
	pkgmiddleware "github.com/utafrali/storefront/pkg/middleware"
)

// NewRouter creates a chi router with the storefront's session endpoints,
// the backend API proxy and the renderer proxy.
func NewRouter(
	cfg *config.Config,
	registry *visitor.Registry,
	px *proxy.Proxy,
	loginLimiter *middleware.RateLimiter,
	healthHandler *health.Handler,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware stack (applied in order).
	r.Use(pkgmiddleware.CORS(pkgmiddleware.DefaultCORSConfig(cfg.CORSAllowedOrigins)))
	r.Use(pkgmiddleware.Recovery(logger))
	r.Use(pkgmiddleware.RequestLogging(logger))
	r.Use(pkgmiddleware.PrometheusMetrics("storefront"))
	r.Use(pkgmiddleware.Tracing("storefront"))
	r.Use(pkgmiddleware.RequestLogger(logger))

	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())

	r.Group(func(r chi.Router) {
		r.Use(pkgmiddleware.IPAllowlist(cfg.MetricsAllowedCIDRs, logger))
		r.Handle("/metrics", promhttp.Handler())
	})
	pkgmiddleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)

	sessions := NewSessionMiddleware(registry, CookieConfig{
		Secure:     cfg.CookieSecure,
		Domain:     cfg.CookieDomain,
		SessionTTL: cfg.SessionTTL,
	}, logger)

	authHandler := NewAuthHandler(registry, logger)
	r.Route("/auth", func(r chi.Router) {
		r.Use(chimw.NoCache)
		r.Use(sessions.Handler)

		r.Get("/session", authHandler.Session)
		r.Post("/logout", authHandler.Logout)
		r.With(loginLimiter.Middleware, ContentTypeJSON).Post("/login", authHandler.Login)
	})

	// Backend API, sent through the visitor's refresh interceptor.
	api := visitorTransport(px.Backend(), logger)
	r.Group(func(r chi.Router) {
		r.Use(sessions.Handler)
		r.Handle(cfg.BackendAPIPrefix, api)
		r.Handle(cfg.BackendAPIPrefix+"/*", api)
	})

	// Pages, rendered upstream.
	r.Group(func(r chi.Router) {
		r.Use(RouteGuard(nil))
		r.Use(sessions.Handler)
		r.Use(sessionHeaders)
		r.Handle("/", px.Frontend())
		r.Handle("/*", px.Frontend())
	})

	return r
}

// visitorTransport installs the visitor's interceptor as the transport of
// the backend proxy.
func visitorTransport(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client, ok := ClientFromContext(r.Context())
		if !ok {
			httputil.WriteError(w, r, apperrors.Internal(errNoClient), logger)
			return
		}
		next.ServeHTTP(w, r.WithContext(proxy.WithTransport(r.Context(), client.Interceptor)))
	})
}
