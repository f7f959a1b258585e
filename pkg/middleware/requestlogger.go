package middleware

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/storefront/pkg/logger"
)

// RequestLogger stores a request-scoped logger in the context, enriched with
// whatever of correlation_id, visitor_id, user_id, trace_id and span_id is
// known at this point. Mount it after RequestLogging and Tracing; handlers
// that learn more (the session middleware) re-enrich with EnrichLogger.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// EnrichLogger returns r with its context logger extended by attrs.
func EnrichLogger(r *http.Request, attrs ...any) *http.Request {
	ctx := r.Context()
	l := logger.FromContext(ctx).With(attrs...)
	return r.WithContext(logger.NewContext(ctx, l))
}
