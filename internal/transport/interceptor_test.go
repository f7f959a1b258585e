package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/storefront/internal/backend"
	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/session"
	"github.com/utafrali/storefront/internal/session/storage/memory"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/httpclient"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBackend accepts "Bearer <valid>" on /api/v1/orders/ and issues
// refreshResponse on /api/v1/auth/refresh/.
type fakeBackend struct {
	mu              sync.Mutex
	valid           string
	refreshStatus   int
	refreshBody     string
	refreshDelay    time.Duration
	refreshes       atomic.Int32
	logouts         atomic.Int32
	ordersCalls     atomic.Int32
	lastOrderBodies []string
}

func (f *fakeBackend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/refresh/", func(w http.ResponseWriter, r *http.Request) {
		f.refreshes.Add(1)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "valid-refresh-token", body["refresh"])
		time.Sleep(f.refreshDelay)
		w.WriteHeader(f.refreshStatus)
		_, _ = io.WriteString(w, f.refreshBody)
	})
	mux.HandleFunc("/api/v1/auth/logout/", func(w http.ResponseWriter, r *http.Request) {
		f.logouts.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/v1/orders/", func(w http.ResponseWriter, r *http.Request) {
		f.ordersCalls.Add(1)
		data, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.lastOrderBodies = append(f.lastOrderBodies, string(data))
		valid := f.valid
		f.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer "+valid {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"detail":"Given token not valid for any token type"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"results":[]}`)
	})
	return mux
}

type eventCounter struct {
	ended atomic.Int32
}

func (e *eventCounter) SessionStarted(context.Context, string, *domain.User) {}
func (e *eventCounter) SessionEnded(context.Context, string, *domain.User, session.Reason) {
	e.ended.Add(1)
}

type fixture struct {
	backend     *fakeBackend
	server      *httptest.Server
	store       *session.Store
	events      *eventCounter
	coord       *session.Coordinator
	interceptor *Interceptor
}

func newFixture(t *testing.T, fb *fakeBackend) *fixture {
	t.Helper()
	server := httptest.NewServer(fb.handler(t))
	t.Cleanup(server.Close)

	hc := httpclient.New(httpclient.Config{Timeout: 5 * time.Second, MaxConnsPerHost: 50})
	cb := httpclient.NewCircuitBreakerClient(hc, httpclient.DefaultCircuitBreakerConfig("transport-"+t.Name()), discardLogger())
	api := backend.NewClient(server.URL+"/api/v1", cb, discardLogger())

	store := session.NewStore("visitor-1", memory.New(time.Hour), nil)
	require.NoError(t, store.SetTokens(context.Background(), "stale", "valid-refresh-token"))
	store.SetUser(&domain.User{ID: "1", Email: "test@example.com", Role: domain.RoleRetail})

	events := &eventCounter{}
	coord := session.NewCoordinator(store, api, events, time.Second, discardLogger())

	return &fixture{
		backend:     fb,
		server:      server,
		store:       store,
		events:      events,
		coord:       coord,
		interceptor: New(store, api, coord, cb, discardLogger()),
	}
}

func (f *fixture) get(t *testing.T) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/api/v1/orders/", http.NoBody)
	require.NoError(t, err)
	return f.interceptor.Do(context.Background(), req)
}

func TestInterceptor_AttachesBearer(t *testing.T) {
	f := newFixture(t, &fakeBackend{valid: "stale"})

	resp, err := f.get(t)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(0), f.backend.refreshes.Load())
}

func TestInterceptor_LogoutDuringRefreshWins(t *testing.T) {
	f := newFixture(t, &fakeBackend{
		valid:         "fresh",
		refreshStatus: http.StatusOK,
		refreshBody:   `{"access":"fresh","refresh":"rotated-refresh-token"}`,
		refreshDelay:  200 * time.Millisecond,
	})

	type result struct {
		status int
		err    error
	}
	results := make(chan result, 1)
	go func() {
		resp, err := f.get(t)
		if err != nil {
			results <- result{err: err}
			return
		}
		resp.Body.Close()
		results <- result{status: resp.StatusCode}
	}()

	require.Eventually(t, func() bool { return f.backend.refreshes.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	f.coord.Logout(context.Background(), session.ReasonUserLogout)

	var r result
	select {
	case r = <-results:
	case <-time.After(2 * time.Second):
		t.Fatal("request did not finish")
	}
	require.NoError(t, r.err)
	assert.Equal(t, http.StatusUnauthorized, r.status)

	assert.Empty(t, f.store.AccessToken())
	refresh, err := f.store.RefreshToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, refresh)
	assert.False(t, f.store.IsAuthenticated())
	assert.Equal(t, int32(1), f.backend.ordersCalls.Load(), "the request is not replayed")
}

func TestInterceptor_ConcurrentUnauthorizedRefreshOnce(t *testing.T) {
	f := newFixture(t, &fakeBackend{
		valid:         "fresh",
		refreshStatus: http.StatusOK,
		refreshBody:   `{"access":"fresh"}`,
		refreshDelay:  50 * time.Millisecond,
	})

	const n = 10
	var wg sync.WaitGroup
	statuses := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := f.get(t)
			if !assert.NoError(t, err) {
				return
			}
			statuses[i] = resp.StatusCode
			_ = resp.Body.Close()
		}(i)
	}
	wg.Wait()

	for i, s := range statuses {
		assert.Equal(t, http.StatusOK, s, "request %d", i)
	}
	assert.Equal(t, int32(1), f.backend.refreshes.Load())
	assert.Equal(t, "fresh", f.store.AccessToken())
	assert.True(t, f.store.IsAuthenticated())
}

func TestInterceptor_RefreshRotatesToken(t *testing.T) {
	f := newFixture(t, &fakeBackend{
		valid:         "fresh",
		refreshStatus: http.StatusOK,
		refreshBody:   `{"access":"fresh","refresh":"rotated-refresh-token"}`,
	})

	resp, err := f.get(t)
	require.NoError(t, err)
	resp.Body.Close()

	refresh, err := f.store.RefreshToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rotated-refresh-token", refresh)
}

func TestInterceptor_RefreshRejectedLogsOutOnce(t *testing.T) {
	f := newFixture(t, &fakeBackend{
		valid:         "never",
		refreshStatus: http.StatusUnauthorized,
		refreshBody:   `{"detail":"Token is invalid or expired"}`,
		refreshDelay:  30 * time.Millisecond,
	})

	const n = 5
	var wg sync.WaitGroup
	statuses := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := f.get(t)
			if !assert.NoError(t, err) {
				return
			}
			statuses[i] = resp.StatusCode
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			assert.Contains(t, string(body), "not valid")
		}(i)
	}
	wg.Wait()

	for _, s := range statuses {
		assert.Equal(t, http.StatusUnauthorized, s)
	}
	assert.Equal(t, int32(1), f.backend.refreshes.Load())
	assert.Equal(t, int32(1), f.backend.logouts.Load())
	assert.Equal(t, int32(1), f.events.ended.Load())

	assert.False(t, f.store.IsAuthenticated())
	refresh, _ := f.store.RefreshToken(context.Background())
	assert.Empty(t, refresh)
}

func TestInterceptor_NoRefreshTokenReturnsOriginal401(t *testing.T) {
	f := newFixture(t, &fakeBackend{valid: "never"})
	require.NoError(t, f.store.Clear(context.Background()))

	resp, err := f.get(t)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(0), f.backend.refreshes.Load())
	assert.Equal(t, int32(0), f.backend.logouts.Load())
}

type failingRefresher struct {
	err   error
	calls atomic.Int32
}

func (r *failingRefresher) Refresh(context.Context, string) (domain.TokenPair, error) {
	r.calls.Add(1)
	return domain.TokenPair{}, r.err
}

type logoutCounter struct {
	calls atomic.Int32
}

func (l *logoutCounter) Logout(context.Context, session.Reason) { l.calls.Add(1) }

func TestInterceptor_TransientRefreshFailureKeepsSession(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"transport", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}},
		{"server error", apperrors.ServiceUnavailable("backend: maintenance", nil)},
		{"circuit open", httpclient.ErrCircuitOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &fakeBackend{valid: "never"})
			refresher := &failingRefresher{err: tt.err}
			logout := &logoutCounter{}
			f.interceptor = New(f.store, refresher, logout, f.interceptor.next, discardLogger())

			resp, err := f.get(t)
			require.Error(t, err)
			assert.Nil(t, resp)
			assert.ErrorIs(t, err, ErrRefreshUnavailable)
			assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
			assert.Equal(t, http.StatusServiceUnavailable, apperrors.HTTPStatus(err))

			assert.Equal(t, int32(1), refresher.calls.Load())
			assert.Equal(t, int32(0), logout.calls.Load())
			refresh, _ := f.store.RefreshToken(context.Background())
			assert.Equal(t, "valid-refresh-token", refresh)
			assert.Equal(t, "stale", f.store.AccessToken())
		})
	}
}

func TestInterceptor_OtherRefreshRejectionEndsSession(t *testing.T) {
	f := newFixture(t, &fakeBackend{valid: "never"})
	refresher := &failingRefresher{err: apperrors.InvalidInput("backend: token blacklisted")}
	logout := &logoutCounter{}
	f.interceptor = New(f.store, refresher, logout, f.interceptor.next, discardLogger())

	resp, err := f.get(t)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(1), logout.calls.Load())
}

func TestInterceptor_StaleTokenReplayedWithoutRefresh(t *testing.T) {
	fb := &fakeBackend{valid: "fresh"}
	f := newFixture(t, fb)
	refresher := &failingRefresher{err: errors.New("must not be called")}

	// The first request fails with the token it carried while another
	// request has already stored a newer one.
	var once sync.Once
	next := doerFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		once.Do(func() { f.store.SetAccessToken("fresh") })
		return http.DefaultClient.Do(req)
	})
	f.interceptor = New(f.store, refresher, &logoutCounter{}, next, discardLogger())

	resp, err := f.get(t)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(0), refresher.calls.Load())
	assert.Equal(t, int32(2), fb.ordersCalls.Load())
}

func TestInterceptor_ReplaysAtMostOnce(t *testing.T) {
	f := newFixture(t, &fakeBackend{
		valid:         "never",
		refreshStatus: http.StatusOK,
		refreshBody:   `{"access":"still-wrong"}`,
	})

	resp, err := f.get(t)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(1), f.backend.refreshes.Load())
	assert.Equal(t, int32(2), f.backend.ordersCalls.Load())
}

type doerFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

func (f doerFunc) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

func TestInterceptor_NetworkErrorReturnedUnmodified(t *testing.T) {
	store := session.NewStore("v", memory.New(time.Hour), nil)
	store.SetAccessToken("a")
	netErr := &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}
	refresher := &failingRefresher{}
	i := New(store, refresher, &logoutCounter{}, doerFunc(func(context.Context, *http.Request) (*http.Response, error) {
		return nil, netErr
	}), discardLogger())

	req, _ := http.NewRequest(http.MethodGet, "http://backend.invalid/x", http.NoBody)
	resp, err := i.Do(context.Background(), req)
	assert.Nil(t, resp)
	assert.Same(t, netErr, err)
	assert.Equal(t, int32(0), refresher.calls.Load())
}

func TestInterceptor_NonUnauthorizedUntouched(t *testing.T) {
	store := session.NewStore("v", memory.New(time.Hour), nil)
	refresher := &failingRefresher{}
	i := New(store, refresher, &logoutCounter{}, doerFunc(func(context.Context, *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusForbidden, Body: io.NopCloser(strings.NewReader("no"))}, nil
	}), discardLogger())

	req, _ := http.NewRequest(http.MethodGet, "http://backend.invalid/x", http.NoBody)
	resp, err := i.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, int32(0), refresher.calls.Load())
}

func TestInterceptor_ReplaysRequestBody(t *testing.T) {
	fb := &fakeBackend{
		valid:         "fresh",
		refreshStatus: http.StatusOK,
		refreshBody:   `{"access":"fresh"}`,
	}
	f := newFixture(t, fb)

	// A server-side request: RequestURI set and no GetBody.
	req := httptest.NewRequest(http.MethodPost, f.server.URL+"/api/v1/orders/", strings.NewReader(`{"sku":"BALL-5"}`))
	resp, err := f.interceptor.RoundTrip(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	fb.mu.Lock()
	defer fb.mu.Unlock()
	assert.Equal(t, []string{`{"sku":"BALL-5"}`, `{"sku":"BALL-5"}`}, fb.lastOrderBodies)
}

func TestInterceptor_StripsCallerAuthorizationWithoutToken(t *testing.T) {
	store := session.NewStore("v", memory.New(time.Hour), nil)
	var seen string
	i := New(store, &failingRefresher{}, &logoutCounter{}, doerFunc(func(_ context.Context, req *http.Request) (*http.Response, error) {
		seen = req.Header.Get("Authorization")
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	}), discardLogger())

	req, _ := http.NewRequest(http.MethodGet, "http://backend.invalid/x", http.NoBody)
	req.Header.Set("Authorization", "Bearer forged")
	_, err := i.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, seen)
}
