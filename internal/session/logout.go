package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/pkg/logger"
)

// Reason explains why a session ended.
type Reason string

const (
	ReasonUserLogout     Reason = "user_logout"
	ReasonSessionExpired Reason = "session_expired"
	ReasonInitFailed     Reason = "init_failed"
	// ReasonSuperseded ends a session replaced by a new login.
	ReasonSuperseded Reason = "superseded"
)

// LogoutAPI invalidates a refresh token on the backend.
type LogoutAPI interface {
	Logout(ctx context.Context, refresh string) error
}

// Events receives session lifecycle notifications.
type Events interface {
	SessionStarted(ctx context.Context, visitorID string, user *domain.User)
	SessionEnded(ctx context.Context, visitorID string, user *domain.User, reason Reason)
}

// DefaultLogoutTimeout bounds the backend logout call.
const DefaultLogoutTimeout = 5 * time.Second

// Coordinator ends sessions. The backend call is best effort; the local
// store is always cleared.
type Coordinator struct {
	store   *Store
	api     LogoutAPI
	events  Events
	timeout time.Duration
	logger  *slog.Logger
}

// NewCoordinator creates a logout coordinator for store. events may be nil.
func NewCoordinator(store *Store, api LogoutAPI, events Events, timeout time.Duration, log *slog.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultLogoutTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		store:   store,
		api:     api,
		events:  events,
		timeout: timeout,
		logger:  log,
	}
}

// Logout invalidates the refresh token on the backend (if one is stored) and
// clears the store. It never returns an error; failures are logged.
// Cancellation of ctx may abort the backend call but not the local clear.
func (c *Coordinator) Logout(ctx context.Context, reason Reason) {
	log := logger.WithContext(ctx, c.logger).With(slog.String("reason", string(reason)))
	user := c.store.User()
	hadSession := user != nil || c.store.AccessToken() != ""

	refresh, err := c.store.RefreshToken(ctx)
	if err != nil {
		log.WarnContext(ctx, "logout: read refresh token", slog.String("error", err.Error()))
	}

	if refresh != "" {
		hadSession = true
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		if err := c.api.Logout(callCtx, refresh); err != nil {
			LogoutServerFailures.Inc()
			log.WarnContext(ctx, "backend logout failed, clearing local session anyway",
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}

	clearCtx := context.WithoutCancel(ctx)
	if err := c.store.Clear(clearCtx); err != nil {
		log.ErrorContext(ctx, "logout: clear persisted refresh token", slog.String("error", err.Error()))
	}

	if !hadSession {
		return
	}

	LogoutTotal.WithLabelValues(string(reason)).Inc()
	log.InfoContext(ctx, "session ended")
	if c.events != nil {
		c.events.SessionEnded(clearCtx, c.store.Key(), user, reason)
	}
}
