// Package redis stores refresh tokens in Redis so sessions survive restarts
// and are shared between storefront replicas.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/utafrali/storefront/internal/domain"
)

// KeyPrefix namespaces refresh token keys.
const KeyPrefix = "storefront:refresh:"

// Storage keeps one refresh token per visitor under KeyPrefix+visitorID.
// The key expires with the token's JWT exp, or after defaultTTL for tokens
// that carry none.
type Storage struct {
	client     goredis.UniversalClient
	defaultTTL time.Duration
	nowFunc    func() time.Time
}

// New creates a Storage. defaultTTL <= 0 means keys without a JWT exp never
// expire.
func New(client goredis.UniversalClient, defaultTTL time.Duration) *Storage {
	return &Storage{
		client:     client,
		defaultTTL: defaultTTL,
		nowFunc:    time.Now,
	}
}

func key(visitorID string) string {
	return KeyPrefix + visitorID
}

// Get returns the stored token, or "" when the key does not exist.
func (s *Storage) Get(ctx context.Context, visitorID string) (string, error) {
	token, err := s.client.Get(ctx, key(visitorID)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get refresh token: %w", err)
	}
	return token, nil
}

// Set stores token. A token whose exp has already passed is not stored and
// any previous value is removed.
func (s *Storage) Set(ctx context.Context, visitorID, token string) error {
	ttl := s.ttlFor(token)
	if ttl < 0 {
		return s.Delete(ctx, visitorID)
	}
	if err := s.client.Set(ctx, key(visitorID), token, ttl).Err(); err != nil {
		return fmt.Errorf("redis set refresh token: %w", err)
	}
	return nil
}

// Delete removes the stored token.
func (s *Storage) Delete(ctx context.Context, visitorID string) error {
	if err := s.client.Del(ctx, key(visitorID)).Err(); err != nil {
		return fmt.Errorf("redis delete refresh token: %w", err)
	}
	return nil
}

// ttlFor returns the key TTL for token: 0 for no expiry, negative when the
// token is already expired.
func (s *Storage) ttlFor(token string) time.Duration {
	exp, ok := domain.TokenExpiry(token)
	if !ok {
		if s.defaultTTL > 0 {
			return s.defaultTTL
		}
		return 0
	}
	ttl := exp.Sub(s.nowFunc())
	if ttl <= 0 {
		return -1
	}
	// Redis rounds sub-second TTLs on SET EX down to zero.
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}
