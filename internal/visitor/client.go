package visitor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/utafrali/storefront/internal/backend"
	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/session"
	"github.com/utafrali/storefront/internal/transport"
)

// refreshMirror remembers the refresh token the cookie should carry.
type refreshMirror struct {
	mu    sync.Mutex
	token string
	known bool
}

func (m *refreshMirror) MirrorRefreshToken(token string) {
	m.mu.Lock()
	m.token = token
	m.known = true
	m.mu.Unlock()
}

func (m *refreshMirror) get() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, m.known
}

// Client bundles the session machinery of one browser visitor.
type Client struct {
	ID          string
	Store       *session.Store
	Interceptor *transport.Interceptor
	Initializer *session.Initializer
	Coordinator *session.Coordinator
	// API is the backend client whose authenticated calls go through
	// Interceptor.
	API *backend.Client

	events   session.Events
	mirror   *refreshMirror
	seedOnce sync.Once
	synced   atomic.Bool
}

// RefreshCookie returns the value the refreshToken cookie should hold. ok
// is false until the store has written or cleared a refresh token, in which
// case the browser's cookie is left alone.
func (c *Client) RefreshCookie() (token string, ok bool) {
	return c.mirror.get()
}

// Ready blocks until the session has been initialized. After a successful
// initialization the persisted refresh token is mirrored to the cookie so
// the route guard sees sessions restored from durable storage.
func (c *Client) Ready(ctx context.Context) error {
	if err := c.Initializer.Run(ctx); err != nil {
		return err
	}
	if c.synced.Load() || c.Initializer.Outcome() != session.OutcomeAuthenticated {
		return nil
	}
	c.synced.Store(true)
	if _, known := c.mirror.get(); known {
		return nil
	}
	if token, err := c.Store.RefreshToken(ctx); err == nil && token != "" {
		c.mirror.MirrorRefreshToken(token)
	}
	return nil
}

// Session returns the current session including the loading flag.
func (c *Client) Session(ctx context.Context) (domain.Session, error) {
	snap, err := c.Store.Snapshot(ctx)
	snap.IsLoading = c.Initializer.IsLoading()
	return snap, err
}

// Login authenticates against the backend and populates the session.
func (c *Client) Login(ctx context.Context, email, password string) (*domain.User, error) {
	res, err := c.API.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := c.Store.SetTokens(ctx, res.Access, res.Refresh); err != nil {
		return nil, err
	}
	c.Store.SetUser(res.User)
	if c.events != nil {
		c.events.SessionStarted(context.WithoutCancel(ctx), c.ID, res.User)
	}
	return c.Store.User(), nil
}

// Logout ends the session at the user's request.
func (c *Client) Logout(ctx context.Context) {
	c.Coordinator.Logout(ctx, session.ReasonUserLogout)
}

// seed copies a refresh token from the browser cookie into durable storage
// when storage has none. It runs at most once per client.
func (c *Client) seed(ctx context.Context, cookieToken string, expired func() bool) error {
	var err error
	c.seedOnce.Do(func() {
		if cookieToken == "" || expired() {
			return
		}
		var stored string
		stored, err = c.Store.RefreshToken(ctx)
		if err != nil || stored != "" {
			return
		}
		err = c.Store.SetRefreshToken(ctx, cookieToken)
	})
	return err
}
