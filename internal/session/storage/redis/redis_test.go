package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStorage(t *testing.T, defaultTTL time.Duration) (*Storage, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, defaultTTL), mr
}

func jwtExpiringAt(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("backend-secret"))
	require.NoError(t, err)
	return token
}

func TestStorage_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, mr := setupStorage(t, time.Hour)

	got, err := s.Get(ctx, "visitor-1")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.Set(ctx, "visitor-1", "valid-refresh-token"))
	assert.True(t, mr.Exists("storefront:refresh:visitor-1"))
	assert.Equal(t, time.Hour, mr.TTL("storefront:refresh:visitor-1"))

	got, err = s.Get(ctx, "visitor-1")
	require.NoError(t, err)
	assert.Equal(t, "valid-refresh-token", got)

	require.NoError(t, s.Delete(ctx, "visitor-1"))
	assert.False(t, mr.Exists("storefront:refresh:visitor-1"))
}

func TestStorage_TTLFollowsJWTExp(t *testing.T) {
	ctx := context.Background()
	s, mr := setupStorage(t, 7*24*time.Hour)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.nowFunc = func() time.Time { return now }

	token := jwtExpiringAt(t, now.Add(90*time.Minute))
	require.NoError(t, s.Set(ctx, "v", token))
	assert.Equal(t, 90*time.Minute, mr.TTL(KeyPrefix+"v"))

	mr.FastForward(91 * time.Minute)
	got, err := s.Get(ctx, "v")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStorage_ExpiredTokenReplacesNothing(t *testing.T) {
	ctx := context.Background()
	s, mr := setupStorage(t, time.Hour)

	require.NoError(t, s.Set(ctx, "v", "old-opaque"))
	require.NoError(t, s.Set(ctx, "v", jwtExpiringAt(t, time.Now().Add(-time.Minute))))
	assert.False(t, mr.Exists(KeyPrefix+"v"))
}

func TestStorage_NoDefaultTTL(t *testing.T) {
	ctx := context.Background()
	s, mr := setupStorage(t, 0)

	require.NoError(t, s.Set(ctx, "v", "opaque"))
	assert.Equal(t, time.Duration(0), mr.TTL(KeyPrefix+"v"))
}

func TestStorage_RedisDown(t *testing.T) {
	ctx := context.Background()
	s, mr := setupStorage(t, time.Hour)
	mr.Close()

	_, err := s.Get(ctx, "v")
	assert.Error(t, err)
	assert.Error(t, s.Set(ctx, "v", "t"))
	assert.Error(t, s.Delete(ctx, "v"))
}
