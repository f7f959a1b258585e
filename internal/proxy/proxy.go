package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/httpclient"
	pkghttputil "github.com/utafrali/storefront/pkg/httputil"
	"github.com/utafrali/storefront/pkg/logger"
)

type transportKey struct{}

// WithTransport returns a context whose backend proxy requests are sent
// through rt, normally the visitor's refresh interceptor.
func WithTransport(ctx context.Context, rt http.RoundTripper) context.Context {
	return context.WithValue(ctx, transportKey{}, rt)
}

// ErrNoTransport is returned when a backend proxy request carries no visitor
// transport.
var ErrNoTransport = errors.New("no visitor transport in request context")

// contextTransport dispatches to the RoundTripper stored by WithTransport.
type contextTransport struct{}

func (contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rt, ok := req.Context().Value(transportKey{}).(http.RoundTripper)
	if !ok || rt == nil {
		return nil, ErrNoTransport
	}
	return rt.RoundTrip(req)
}

// Config holds proxy targets and transport settings.
type Config struct {
	BackendURL  string
	FrontendURL string

	DialTimeout     time.Duration
	ResponseTimeout time.Duration
	IdleTimeout     time.Duration
	MaxIdleConns    int
}

// Proxy forwards API calls to the backend on behalf of a visitor and page
// requests to the renderer.
type Proxy struct {
	backend  *httputil.ReverseProxy
	frontend *httputil.ReverseProxy
	logger   *slog.Logger
}

// New creates a Proxy. Backend requests must carry a transport installed by
// WithTransport.
func New(cfg Config, log *slog.Logger) (*Proxy, error) {
	backendURL, err := parseTarget("backend", cfg.BackendURL)
	if err != nil {
		return nil, err
	}
	frontendURL, err := parseTarget("frontend", cfg.FrontendURL)
	if err != nil {
		return nil, err
	}

	p := &Proxy{logger: log}

	p.backend = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(backendURL)
			pr.SetXForwarded()
			// Browser cookies belong to the storefront; the interceptor sets
			// the backend credentials.
			pr.Out.Header.Del("Cookie")
			pr.Out.Header.Del("Authorization")
		},
		Transport:    contextTransport{},
		ErrorHandler: p.errorHandler("backend"),
	}

	p.frontend = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(frontendURL)
			pr.SetXForwarded()
			pr.Out.Host = pr.In.Host
		},
		Transport:    newTransport(cfg),
		ErrorHandler: p.errorHandler("frontend"),
	}

	log.Info("registered proxies",
		slog.String("backend", cfg.BackendURL),
		slog.String("frontend", cfg.FrontendURL),
	)
	return p, nil
}

func parseTarget(name, raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse %s URL: %w", name, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%s URL %q must be absolute", name, raw)
	}
	return u, nil
}

func newTransport(cfg Config) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.DialTimeout > 0 {
		t.DialContext = (&net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: 30 * time.Second}).DialContext
	}
	if cfg.ResponseTimeout > 0 {
		t.ResponseHeaderTimeout = cfg.ResponseTimeout
	}
	if cfg.IdleTimeout > 0 {
		t.IdleConnTimeout = cfg.IdleTimeout
	}
	if cfg.MaxIdleConns > 0 {
		t.MaxIdleConns = cfg.MaxIdleConns
		t.MaxIdleConnsPerHost = cfg.MaxIdleConns
	}
	return t
}

// Backend returns the API proxy handler.
func (p *Proxy) Backend() http.Handler {
	return p.backend
}

// Frontend returns the renderer proxy handler.
func (p *Proxy) Frontend() http.Handler {
	return p.frontend
}

// errorHandler logs proxy failures and writes a JSON error. A refresh that
// could not reach the backend surfaces as 503; everything else as 502.
func (p *Proxy) errorHandler(target string) func(http.ResponseWriter, *http.Request, error) {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.WithContext(r.Context(), p.logger).ErrorContext(r.Context(), "proxy error",
			slog.String("target", target),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)

		var appErr *apperrors.AppError
		switch {
		case errors.As(err, &appErr):
		case httpclient.IsCircuitOpen(err):
			err = apperrors.ServiceUnavailable(target+" temporarily unavailable", err)
		default:
			err = &apperrors.AppError{
				Code:    "BAD_GATEWAY",
				Message: "upstream service unavailable",
				Status:  http.StatusBadGateway,
				Err:     fmt.Errorf("%w: %w", apperrors.ErrUpstream, err),
			}
		}
		pkghttputil.WriteError(w, r, err, p.logger)
	}
}
