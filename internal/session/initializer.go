package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/utafrali/storefront/internal/backend"
	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/pkg/logger"
	"github.com/utafrali/storefront/pkg/tracing"
)

// Outcome is the result of session initialization.
type Outcome string

const (
	OutcomePending       Outcome = "pending"
	OutcomeGuest         Outcome = "guest"
	OutcomeAuthenticated Outcome = "authenticated"
	OutcomeUnauthorized  Outcome = "unauthorized"
	OutcomeRejected      Outcome = "rejected"
	OutcomeExhausted     Outcome = "exhausted"
	OutcomeStorageError  Outcome = "storage_error"
)

// ProfileFetcher calls the backend's current-user endpoint.
type ProfileFetcher interface {
	Profile(ctx context.Context) (*domain.User, error)
}

// LogoutRunner ends a session. *Coordinator implements it.
type LogoutRunner interface {
	Logout(ctx context.Context, reason Reason)
}

// RetryPolicy bounds the current-user calls made during initialization.
// Delay(n) is the wait after failed attempt n (1-based).
type RetryPolicy struct {
	MaxAttempts int
	Delay       func(attempt int) time.Duration
}

// ExponentialBackoff returns a delay function doubling from base.
func ExponentialBackoff(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		return base << uint(attempt-1)
	}
}

// NewRetryPolicy returns a policy of maxAttempts with exponential delays
// starting at base.
func NewRetryPolicy(maxAttempts int, base time.Duration) RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return RetryPolicy{MaxAttempts: maxAttempts, Delay: ExponentialBackoff(base)}
}

// DefaultRetryPolicy is three attempts waiting 1s then 2s.
func DefaultRetryPolicy() RetryPolicy {
	return NewRetryPolicy(3, time.Second)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the real-time Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Initializer hydrates a store from its persisted refresh token. It runs
// once; every caller of Run blocks until that run has finished. A run that
// could not read storage is not final and the next Run starts over.
type Initializer struct {
	store   *Store
	profile ProfileFetcher
	logout  LogoutRunner
	policy  RetryPolicy
	sleep   Sleeper
	logger  *slog.Logger

	mu      sync.RWMutex
	running bool
	done    chan struct{}
	outcome Outcome
	runs    int
}

// InitializerOption configures an Initializer.
type InitializerOption func(*Initializer)

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) InitializerOption {
	return func(i *Initializer) {
		if p.MaxAttempts < 1 {
			p.MaxAttempts = 1
		}
		if p.Delay == nil {
			p.Delay = func(int) time.Duration { return 0 }
		}
		i.policy = p
	}
}

// WithSleeper overrides SleepContext.
func WithSleeper(s Sleeper) InitializerOption {
	return func(i *Initializer) { i.sleep = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) InitializerOption {
	return func(i *Initializer) { i.logger = l }
}

// NewInitializer creates an Initializer for store.
func NewInitializer(store *Store, profile ProfileFetcher, logout LogoutRunner, opts ...InitializerOption) *Initializer {
	i := &Initializer{
		store:   store,
		profile: profile,
		logout:  logout,
		policy:  DefaultRetryPolicy(),
		sleep:   SleepContext,
		logger:  slog.Default(),
		done:    make(chan struct{}),
		outcome: OutcomePending,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Run initializes the session on first call and waits for it otherwise.
// The initialization itself is detached from ctx cancellation; ctx only
// bounds how long this caller waits.
func (i *Initializer) Run(ctx context.Context) error {
	i.mu.Lock()
	switch {
	case i.running:
		done := i.done
		i.mu.Unlock()
		return wait(ctx, done)
	case i.outcome != OutcomePending && i.outcome != OutcomeStorageError:
		i.mu.Unlock()
		return nil
	}
	if i.outcome == OutcomeStorageError {
		i.done = make(chan struct{})
		i.outcome = OutcomePending
	}
	i.running = true
	i.runs++
	done := i.done
	i.mu.Unlock()

	outcome := i.initialize(context.WithoutCancel(ctx))

	i.mu.Lock()
	i.outcome = outcome
	i.running = false
	close(done)
	i.mu.Unlock()
	return nil
}

// Wait blocks until the current initialization has finished or ctx is done.
func (i *Initializer) Wait(ctx context.Context) error {
	i.mu.RLock()
	done := i.done
	i.mu.RUnlock()
	return wait(ctx, done)
}

func wait(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done reports whether initialization has finished.
func (i *Initializer) Done() bool {
	i.mu.RLock()
	done := i.done
	i.mu.RUnlock()
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// IsLoading is the inverse of Done.
func (i *Initializer) IsLoading() bool {
	return !i.Done()
}

// Outcome returns the result of initialization, or OutcomePending.
func (i *Initializer) Outcome() Outcome {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.outcome
}

// Runs returns how many initializations have been started.
func (i *Initializer) Runs() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.runs
}

func (i *Initializer) initialize(ctx context.Context) (outcome Outcome) {
	ctx, span := tracing.Tracer("storefront/session").Start(ctx, "session.initialize")
	log := logger.WithContext(ctx, i.logger)
	defer func() {
		span.SetAttributes(attribute.String("session.init.outcome", string(outcome)))
		tracing.EndSpan(span, nil)
		InitTotal.WithLabelValues(string(outcome)).Inc()
		log.DebugContext(ctx, "session initialized", slog.String("outcome", string(outcome)))
	}()

	refresh, err := i.store.RefreshToken(ctx)
	if err != nil {
		// The token may still be valid; leave it for the next Run.
		log.ErrorContext(ctx, "session init: read refresh token", slog.String("error", err.Error()))
		return OutcomeStorageError
	}
	if refresh == "" {
		return OutcomeGuest
	}

	for attempt := 1; attempt <= i.policy.MaxAttempts; attempt++ {
		InitAttempts.Inc()
		span.SetAttributes(attribute.Int("session.init.attempts", attempt))

		user, err := i.profile.Profile(ctx)
		if err == nil && user != nil {
			i.store.SetUser(user)
			return OutcomeAuthenticated
		}

		switch {
		case err == nil:
			log.WarnContext(ctx, "session init: empty current user response")
			i.logout.Logout(ctx, ReasonInitFailed)
			return OutcomeRejected
		case backend.IsAuthFailure(err):
			i.logout.Logout(ctx, ReasonSessionExpired)
			return OutcomeUnauthorized
		case !backend.IsTransient(err):
			log.WarnContext(ctx, "session init: current user rejected", slog.String("error", err.Error()))
			i.logout.Logout(ctx, ReasonInitFailed)
			return OutcomeRejected
		}

		log.WarnContext(ctx, "session init: transient failure",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", i.policy.MaxAttempts),
			slog.String("error", err.Error()),
		)
		if attempt < i.policy.MaxAttempts {
			if err := i.sleep(ctx, i.policy.Delay(attempt)); err != nil {
				break
			}
		}
	}

	i.logout.Logout(ctx, ReasonInitFailed)
	return OutcomeExhausted
}
