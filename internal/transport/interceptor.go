// Package transport sends backend requests on behalf of a visitor, attaching
// the access token and refreshing it once when the backend answers 401.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/utafrali/storefront/internal/backend"
	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/session"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/logger"
	"github.com/utafrali/storefront/pkg/tracing"
)

// MaxReplayBody is the largest request body buffered for replay. Larger
// bodies are streamed and their 401 is returned as is.
const MaxReplayBody = 8 << 20

// ErrRefreshUnavailable is returned when a 401 could not be resolved because
// the refresh endpoint was unreachable. The session is kept.
var ErrRefreshUnavailable = &apperrors.AppError{
	Code:    "REFRESH_UNAVAILABLE",
	Message: "session refresh temporarily unavailable",
	Status:  http.StatusServiceUnavailable,
	Err:     apperrors.ErrServiceUnavail,
}

// errSessionLost marks a refresh that ended the session.
var errSessionLost = errors.New("session lost")

// Refresher exchanges a refresh token for new tokens.
type Refresher interface {
	Refresh(ctx context.Context, refresh string) (domain.TokenPair, error)
}

type refreshCall struct {
	done  chan struct{}
	token string
	err   error
}

// Interceptor is the visitor's backend transport. At most one refresh runs
// at a time per store; requests that hit 401 meanwhile wait for it and are
// replayed with the token it produced.
type Interceptor struct {
	store     *session.Store
	refresher Refresher
	logout    session.LogoutRunner
	next      backend.Doer
	logger    *slog.Logger

	mu       sync.Mutex
	inflight *refreshCall
}

// New creates an Interceptor that sends requests through next.
func New(store *session.Store, refresher Refresher, logout session.LogoutRunner, next backend.Doer, log *slog.Logger) *Interceptor {
	if log == nil {
		log = slog.Default()
	}
	return &Interceptor{
		store:     store,
		refresher: refresher,
		logout:    logout,
		next:      next,
		logger:    log,
	}
}

// RoundTrip implements http.RoundTripper so the interceptor can back a
// reverse proxy.
func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	return i.Do(req.Context(), req)
}

// Do sends req with the current access token. Transport errors and non-401
// responses are returned unchanged. On 401 the token is refreshed (or the
// in-flight refresh awaited) and req is replayed once.
func (i *Interceptor) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	body, replayable, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	sent := i.store.AccessToken()
	resp, err := i.send(ctx, req, body, sent)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	token, err := i.refresh(ctx, sent)
	switch {
	case errors.Is(err, errSessionLost):
		return resp, nil
	case err != nil:
		drain(resp)
		return nil, err
	case !replayable:
		return resp, nil
	}

	drain(resp)
	return i.send(ctx, req, body, token)
}

func (i *Interceptor) send(ctx context.Context, req *http.Request, body io.Reader, token string) (*http.Response, error) {
	r := req.Clone(ctx)
	r.RequestURI = ""
	if b, ok := body.(*bytes.Reader); ok {
		data := make([]byte, b.Size())
		_, _ = b.ReadAt(data, 0)
		r.Body = io.NopCloser(bytes.NewReader(data))
		r.ContentLength = int64(len(data))
		r.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		}
	} else if body != nil {
		r.Body = io.NopCloser(body)
	}

	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	} else {
		r.Header.Del("Authorization")
	}
	return i.next.Do(ctx, r)
}

// refresh returns a token to replay with. sent is the token the failed
// request carried; if the store already holds a different one, that token is
// used without another refresh.
func (i *Interceptor) refresh(ctx context.Context, sent string) (string, error) {
	i.mu.Lock()
	if cur := i.store.AccessToken(); cur != "" && cur != sent {
		i.mu.Unlock()
		RefreshWaiters.WithLabelValues("stale").Inc()
		return cur, nil
	}
	if call := i.inflight; call != nil {
		i.mu.Unlock()
		RefreshWaiters.WithLabelValues("queued").Inc()
		select {
		case <-call.done:
			return call.token, call.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	i.inflight = call
	i.mu.Unlock()

	call.token, call.err = i.doRefresh(context.WithoutCancel(ctx))

	i.mu.Lock()
	i.inflight = nil
	i.mu.Unlock()
	close(call.done)

	return call.token, call.err
}

func (i *Interceptor) doRefresh(ctx context.Context) (token string, err error) {
	ctx, span := tracing.Tracer("storefront/transport").Start(ctx, "session.refresh")
	log := logger.WithContext(ctx, i.logger)
	outcome := "success"
	defer func() {
		span.SetAttributes(attribute.String("session.refresh.outcome", outcome))
		tracing.EndSpan(span, err)
		RefreshTotal.WithLabelValues(outcome).Inc()
	}()

	gen := i.store.Generation()
	refresh, err := i.store.RefreshToken(ctx)
	if err != nil {
		outcome = "unavailable"
		log.ErrorContext(ctx, "refresh: read refresh token", slog.String("error", err.Error()))
		return "", fmt.Errorf("%w: %w", ErrRefreshUnavailable, err)
	}
	if refresh == "" {
		outcome = "no_token"
		i.logout.Logout(ctx, session.ReasonSessionExpired)
		return "", errSessionLost
	}

	pair, err := i.refresher.Refresh(ctx, refresh)
	if err != nil {
		if backend.IsTransient(err) {
			outcome = "unavailable"
			log.WarnContext(ctx, "refresh: backend unavailable, keeping session", slog.String("error", err.Error()))
			return "", fmt.Errorf("%w: %w", ErrRefreshUnavailable, err)
		}
		outcome = "rejected"
		log.InfoContext(ctx, "refresh rejected, ending session", slog.String("error", err.Error()))
		i.logout.Logout(ctx, session.ReasonSessionExpired)
		return "", errSessionLost
	}

	stored, err := i.store.SetTokensIfGeneration(ctx, gen, pair.Access, pair.Refresh)
	if !stored {
		outcome = "superseded"
		log.InfoContext(ctx, "refresh: session ended while refreshing, discarding tokens")
		return "", errSessionLost
	}
	if err != nil {
		// The new access token is already in memory; only rotation was lost.
		log.ErrorContext(ctx, "refresh: persist rotated refresh token", slog.String("error", err.Error()))
	}
	return pair.Access, nil
}

// bufferBody reads req.Body so it can be sent twice. The returned reader is a
// *bytes.Reader when the body fits MaxReplayBody.
func bufferBody(req *http.Request) (io.Reader, bool, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, true, nil
	}
	if req.GetBody != nil {
		rc, err := req.GetBody()
		if err == nil {
			defer func() { _ = rc.Close() }()
			data, err := io.ReadAll(io.LimitReader(rc, MaxReplayBody+1))
			if err == nil && len(data) <= MaxReplayBody {
				_ = req.Body.Close()
				return bytes.NewReader(data), true, nil
			}
		}
	}

	data, err := io.ReadAll(io.LimitReader(req.Body, MaxReplayBody+1))
	if err != nil {
		return nil, false, fmt.Errorf("read request body: %w", err)
	}
	if len(data) <= MaxReplayBody {
		_ = req.Body.Close()
		return bytes.NewReader(data), true, nil
	}
	return io.MultiReader(bytes.NewReader(data), req.Body), false, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
