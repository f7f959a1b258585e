// Package memory is a process-local refresh token storage.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/utafrali/storefront/internal/domain"
)

type entry struct {
	token     string
	expiresAt time.Time
}

// Storage keeps refresh tokens in a map. Tokens carrying a JWT exp are
// dropped once it passes; other tokens expire defaultTTL after they were
// stored, or never when defaultTTL is zero.
type Storage struct {
	mu         sync.RWMutex
	tokens     map[string]entry
	defaultTTL time.Duration
	nowFunc    func() time.Time
}

// New creates an empty Storage.
func New(defaultTTL time.Duration) *Storage {
	return &Storage{
		tokens:     make(map[string]entry),
		defaultTTL: defaultTTL,
		nowFunc:    time.Now,
	}
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Get returns the token stored under key, or "".
func (s *Storage) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	e, ok := s.tokens[key]
	s.mu.RUnlock()
	if !ok {
		return "", nil
	}
	if e.expired(s.nowFunc()) {
		s.mu.Lock()
		if cur, ok := s.tokens[key]; ok && cur == e {
			delete(s.tokens, key)
		}
		s.mu.Unlock()
		return "", nil
	}
	return e.token, nil
}

// Set stores token under key.
func (s *Storage) Set(_ context.Context, key, token string) error {
	e := entry{token: token}
	if exp, ok := domain.TokenExpiry(token); ok {
		e.expiresAt = exp
	} else if s.defaultTTL > 0 {
		e.expiresAt = s.nowFunc().Add(s.defaultTTL)
	}
	s.mu.Lock()
	s.tokens[key] = e
	s.mu.Unlock()
	return nil
}

// Delete removes key. Missing keys are not an error.
func (s *Storage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.tokens, key)
	s.mu.Unlock()
	return nil
}

// Sweep drops expired tokens and returns how many remain.
func (s *Storage) Sweep() int {
	now := s.nowFunc()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.tokens {
		if e.expired(now) {
			delete(s.tokens, key)
		}
	}
	return len(s.tokens)
}
