package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/utafrali/storefront/internal/domain"
)

// RefreshStorage persists refresh tokens beyond the lifetime of the
// in-memory session. Get returns "" when nothing is stored for key.
type RefreshStorage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, token string) error
	Delete(ctx context.Context, key string) error
}

// CookieMirror receives the refresh token whenever it changes so it can be
// copied into the refreshToken cookie read by the route guard. An empty
// token means the cookie must be removed.
type CookieMirror interface {
	MirrorRefreshToken(token string)
}

// Store holds the session of a single visitor. The access token and user
// record live in memory; the refresh token lives in RefreshStorage under the
// store's key and is mirrored to the cookie.
type Store struct {
	key     string
	storage RefreshStorage
	mirror  CookieMirror

	// writeMu orders token writes against Clear so a write that raced a
	// logout cannot resurrect the session.
	writeMu sync.Mutex

	mu     sync.RWMutex
	access string
	user   *domain.User
	gen    uint64
}

// NewStore creates an empty store for key. mirror may be nil.
func NewStore(key string, storage RefreshStorage, mirror CookieMirror) *Store {
	return &Store{
		key:     key,
		storage: storage,
		mirror:  mirror,
	}
}

// Key returns the storage key, which is the visitor ID.
func (s *Store) Key() string {
	return s.key
}

// SetTokens stores the access token in memory and, when refresh is
// non-empty, persists it and updates the cookie mirror.
func (s *Store) SetTokens(ctx context.Context, access, refresh string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.setTokens(ctx, access, refresh)
}

// Generation identifies the current session. It changes on every Clear.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// SetTokensIfGeneration behaves like SetTokens but only while the store is
// still at generation gen. It reports false, writing nothing, when the
// session was cleared in the meantime.
func (s *Store) SetTokensIfGeneration(ctx context.Context, gen uint64, access, refresh string) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.Generation() != gen {
		return false, nil
	}
	return true, s.setTokens(ctx, access, refresh)
}

func (s *Store) setTokens(ctx context.Context, access, refresh string) error {
	s.SetAccessToken(access)
	if refresh == "" {
		return nil
	}
	return s.setRefreshToken(ctx, refresh)
}

// SetAccessToken replaces the in-memory access token.
func (s *Store) SetAccessToken(access string) {
	s.mu.Lock()
	s.access = access
	s.mu.Unlock()
}

// AccessToken returns the current access token or "".
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access
}

// SetRefreshToken persists refresh and mirrors it to the cookie.
func (s *Store) SetRefreshToken(ctx context.Context, refresh string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.setRefreshToken(ctx, refresh)
}

func (s *Store) setRefreshToken(ctx context.Context, refresh string) error {
	if err := s.storage.Set(ctx, s.key, refresh); err != nil {
		return fmt.Errorf("persist refresh token: %w", err)
	}
	s.mirrorToken(refresh)
	return nil
}

// RefreshToken returns the persisted refresh token, or "" when none exists.
func (s *Store) RefreshToken(ctx context.Context) (string, error) {
	token, err := s.storage.Get(ctx, s.key)
	if err != nil {
		return "", fmt.Errorf("load refresh token: %w", err)
	}
	return token, nil
}

// SetUser attaches the user record. The record is copied so later changes by
// the caller do not leak into the session.
func (s *Store) SetUser(user *domain.User) {
	var u *domain.User
	if user != nil {
		cp := *user
		u = &cp
	}
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()
}

// User returns a copy of the attached user record, or nil.
func (s *Store) User() *domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	cp := *s.user
	return &cp
}

// IsAuthenticated reports whether both an access token and a user are present.
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access != "" && s.user != nil
}

// Clear removes every piece of session state. In-memory state and the cookie
// mirror are cleared even when deleting the persisted token fails.
func (s *Store) Clear(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.access = ""
	s.user = nil
	s.gen++
	s.mu.Unlock()

	s.mirrorToken("")

	if err := s.storage.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

// Snapshot returns the current session. A storage failure leaves
// RefreshToken empty and is returned alongside the in-memory state.
func (s *Store) Snapshot(ctx context.Context) (domain.Session, error) {
	refresh, err := s.RefreshToken(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var u *domain.User
	if s.user != nil {
		cp := *s.user
		u = &cp
	}
	return domain.Session{
		AccessToken:     s.access,
		RefreshToken:    refresh,
		User:            u,
		IsAuthenticated: s.access != "" && s.user != nil,
	}, err
}

func (s *Store) mirrorToken(token string) {
	if s.mirror != nil {
		s.mirror.MirrorRefreshToken(token)
	}
}
