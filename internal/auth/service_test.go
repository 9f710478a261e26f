package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupService(t *testing.T) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	mgr := NewJWTManager("access-secret-32-chars-long!!!!!", "refresh-secret-32-chars-long!!!!", 15*time.Minute, 7*24*time.Hour)
	return NewService(mgr, client), mr
}

func TestService_RefreshRotates(t *testing.T) {
	ctx := context.Background()
	svc, mr := setupService(t)

	pair, err := svc.GenerateTokens(ctx, "user-1", "u1@example.com")
	require.NoError(t, err)
	assert.Len(t, mr.Keys(), 1)

	next, err := svc.RefreshTokens(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.Len(t, mr.Keys(), 1)

	claims, err := svc.ValidateAccessToken(next.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1@example.com", claims.Email)

	_, err = svc.RefreshTokens(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrRefreshRevoked)
}

func TestService_Logout(t *testing.T) {
	ctx := context.Background()
	svc, mr := setupService(t)

	first, err := svc.GenerateTokens(ctx, "user-2", "u2@example.com")
	require.NoError(t, err)
	_, err = svc.GenerateTokens(ctx, "user-2", "u2@example.com")
	require.NoError(t, err)
	_, err = svc.GenerateTokens(ctx, "user-3", "u3@example.com")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, "user-2"))
	assert.Len(t, mr.Keys(), 1)

	_, err = svc.RefreshTokens(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, ErrRefreshRevoked)
}

func TestService_RefreshTTL(t *testing.T) {
	ctx := context.Background()
	svc, mr := setupService(t)

	_, err := svc.GenerateTokens(ctx, "user-4", "u4@example.com")
	require.NoError(t, err)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, 7*24*time.Hour, mr.TTL(keys[0]))
}

func TestService_RedisDown(t *testing.T) {
	svc, mr := setupService(t)
	mr.Close()

	_, err := svc.GenerateTokens(context.Background(), "user-5", "u5@example.com")
	assert.Error(t, err)
}
