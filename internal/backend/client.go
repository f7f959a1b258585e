package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/pkg/httpclient"
	"github.com/utafrali/storefront/pkg/logger"
	"github.com/utafrali/storefront/pkg/middleware"
)

// ServiceName labels errors and breaker metrics for the backend.
const ServiceName = "backend"

// Endpoint paths relative to the API base.
const (
	PathLogin   = "/auth/login/"
	PathRefresh = "/auth/refresh/"
	PathLogout  = "/auth/logout/"
	PathProfile = "/users/profile/"
)

// Doer sends a request. *httpclient.CircuitBreakerClient and the refresh
// interceptor both implement it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client calls the backend REST API. Anonymous calls (login, refresh,
// logout) go through the shared breaker client; Profile goes through the
// authenticated Doer bound with WithDoer.
type Client struct {
	baseURL string
	doer    Doer
	authed  Doer
	logger  *slog.Logger
}

// NewClient creates a backend client for the API rooted at baseURL
// (e.g. http://backend:8000/api/v1).
func NewClient(baseURL string, doer Doer, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		doer:    doer,
		authed:  doer,
		logger:  log,
	}
}

// WithDoer returns a copy of c whose authenticated calls use d.
func (c *Client) WithDoer(d Doer) *Client {
	cp := *c
	cp.authed = d
	return &cp
}

// URL joins path onto the API base.
func (c *Client) URL(path string) string {
	return c.baseURL + path
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

// Login exchanges credentials for a token pair and the user record.
func (c *Client) Login(ctx context.Context, email, password string) (*domain.LoginResult, error) {
	var res domain.LoginResult
	if err := c.postJSON(ctx, PathLogin, credentials{Email: email, Password: password}, &res); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if res.Access == "" || res.User == nil {
		return nil, fmt.Errorf("login: %w", errMalformed("missing access token or user"))
	}
	return &res, nil
}

// Refresh exchanges a refresh token for a new access token. Refresh in the
// result is set only when the backend rotates the token.
func (c *Client) Refresh(ctx context.Context, refresh string) (domain.TokenPair, error) {
	var pair domain.TokenPair
	if err := c.postJSON(ctx, PathRefresh, refreshRequest{Refresh: refresh}, &pair); err != nil {
		return domain.TokenPair{}, fmt.Errorf("refresh: %w", err)
	}
	if pair.Access == "" {
		return domain.TokenPair{}, fmt.Errorf("refresh: %w", errMalformed("missing access token"))
	}
	return pair, nil
}

// Logout invalidates refresh on the backend.
func (c *Client) Logout(ctx context.Context, refresh string) error {
	if err := c.postJSON(ctx, PathLogout, refreshRequest{Refresh: refresh}, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Profile returns the current user through the authenticated Doer.
func (c *Client) Profile(ctx context.Context) (*domain.User, error) {
	req, err := c.newRequest(ctx, http.MethodGet, PathProfile, nil)
	if err != nil {
		return nil, err
	}
	var user domain.User
	if err := c.do(ctx, c.authed, req, &user); err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	return &user, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, payload)
	if err != nil {
		return err
	}
	return c.do(ctx, c.doer, req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, payload []byte) (*http.Request, error) {
	var body io.Reader = http.NoBody
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), body)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		req.Header.Set(middleware.CorrelationIDHeader, id)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	return req, nil
}

func (c *Client) do(ctx context.Context, d Doer, req *http.Request, out any) error {
	resp, err := d.Do(ctx, req)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		err := httpclient.ParseResponseError(resp, ServiceName)
		logger.WithContext(ctx, c.logger).DebugContext(ctx, "backend call failed",
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.Int("status", resp.StatusCode),
		)
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return errMalformed(fmt.Sprintf("decode %s response: %v", req.URL.Path, err))
	}
	return nil
}
