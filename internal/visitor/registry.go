// Package visitor keeps one session client per browser visitor.
package visitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/storefront/internal/backend"
	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/session"
	"github.com/utafrali/storefront/internal/transport"
)

// Config controls client construction and eviction.
type Config struct {
	IdleTTL       time.Duration
	LogoutTimeout time.Duration
	RetryPolicy   session.RetryPolicy
	// Sleeper overrides the initializer's backoff sleep; nil uses real time.
	Sleeper session.Sleeper
}

// sweeper is implemented by storages that expire tokens lazily.
type sweeper interface {
	Sweep() int
}

type entry struct {
	client   *Client
	lastSeen time.Time
}

// Registry maps visitor IDs to clients and evicts clients that have been
// idle for longer than Config.IdleTTL. Refresh tokens stay in durable
// storage after eviction.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*entry

	cfg     Config
	storage session.RefreshStorage
	api     *backend.Client
	next    backend.Doer
	events  session.Events
	logger  *slog.Logger
	nowFunc func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRegistry creates a registry. next is the transport the interceptors
// send through; api provides login, refresh and logout calls.
func NewRegistry(cfg Config, storage session.RefreshStorage, api *backend.Client, next backend.Doer, events session.Events, log *slog.Logger) *Registry {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	if cfg.RetryPolicy.MaxAttempts == 0 {
		cfg.RetryPolicy = session.DefaultRetryPolicy()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		clients: make(map[string]*entry),
		cfg:     cfg,
		storage: storage,
		api:     api,
		next:    next,
		events:  events,
		logger:  log,
		nowFunc: time.Now,
		stop:    make(chan struct{}),
	}
}

// NewVisitorID returns a fresh visitor ID.
func NewVisitorID() string {
	return uuid.NewString()
}

// ValidID reports whether id looks like an ID issued by NewVisitorID.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil && len(id) == 36
}

// Start runs the eviction loop until Stop is called.
func (r *Registry) Start() {
	go r.cleanupLoop()
}

// Stop ends the eviction loop.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Resolve returns the client for id, creating it on first use. When the
// visitor's durable storage is empty, a non-expired refreshToken cookie
// value seeds it before the session is initialized.
func (r *Registry) Resolve(ctx context.Context, id, cookieRefresh string) (*Client, error) {
	c := r.get(id)
	now := r.nowFunc()
	err := c.seed(ctx, cookieRefresh, func() bool { return domain.TokenExpired(cookieRefresh, now) })
	return c, err
}

func (r *Registry) get(id string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.clients[id]; ok {
		e.lastSeen = r.nowFunc()
		return e.client
	}

	c := r.newClient(id)
	r.clients[id] = &entry{client: c, lastSeen: r.nowFunc()}
	activeVisitors.Set(float64(len(r.clients)))
	return c
}

func (r *Registry) newClient(id string) *Client {
	log := r.logger.With(slog.String("visitor_id", id))
	mirror := &refreshMirror{}
	store := session.NewStore(id, r.storage, mirror)
	coord := session.NewCoordinator(store, r.api, r.events, r.cfg.LogoutTimeout, log)
	interceptor := transport.New(store, r.api, coord, r.next, log)
	api := r.api.WithDoer(interceptor)

	opts := []session.InitializerOption{
		session.WithRetryPolicy(r.cfg.RetryPolicy),
		session.WithLogger(log),
	}
	if r.cfg.Sleeper != nil {
		opts = append(opts, session.WithSleeper(r.cfg.Sleeper))
	}

	return &Client{
		ID:          id,
		Store:       store,
		Interceptor: interceptor,
		Initializer: session.NewInitializer(store, api, coord, opts...),
		Coordinator: coord,
		API:         api,
		events:      r.events,
		mirror:      mirror,
	}
}

// Login authenticates on a client issued under a fresh visitor ID and
// retires current, so a visitor ID known before login never carries the
// authenticated session. A session current still held is ended at the
// backend.
func (r *Registry) Login(ctx context.Context, current *Client, email, password string) (*Client, error) {
	next := r.newClient(NewVisitorID())
	// Only the login may populate the new client's storage.
	next.seedOnce.Do(func() {})
	if err := next.Ready(ctx); err != nil {
		return nil, err
	}
	if _, err := next.Login(ctx, email, password); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.clients[next.ID] = &entry{client: next, lastSeen: r.nowFunc()}
	if current != nil {
		if e, ok := r.clients[current.ID]; ok && e.client == current {
			delete(r.clients, current.ID)
		}
	}
	activeVisitors.Set(float64(len(r.clients)))
	r.mu.Unlock()

	if current != nil {
		current.Coordinator.Logout(ctx, session.ReasonSuperseded)
		r.logger.DebugContext(ctx, "visitor rotated on login",
			slog.String("visitor_id", current.ID),
			slog.String("new_visitor_id", next.ID),
		)
	}
	return next, nil
}

// Len returns the number of live clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func (r *Registry) cleanupLoop() {
	ticker := time.NewTicker(r.cfg.IdleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.cleanup()
		case <-r.stop:
			return
		}
	}
}

// cleanup evicts clients not seen within IdleTTL and sweeps expired tokens
// out of process-local storage.
func (r *Registry) cleanup() {
	if s, ok := r.storage.(sweeper); ok {
		storedRefreshTokens.Set(float64(s.Sweep()))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFunc()
	evicted := 0
	for id, e := range r.clients {
		if now.Sub(e.lastSeen) > r.cfg.IdleTTL {
			delete(r.clients, id)
			evicted++
		}
	}
	activeVisitors.Set(float64(len(r.clients)))
	if evicted > 0 {
		visitorsEvicted.Add(float64(evicted))
		r.logger.Debug("evicted idle visitors", slog.Int("count", evicted), slog.Int("remaining", len(r.clients)))
	}
}
