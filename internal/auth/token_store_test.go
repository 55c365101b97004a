package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/inkblog/internal/logging"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisTokenStore_ConsumeAllowsShortReuse(t *testing.T) {
	mr, client := newMiniredisClient(t)
	store := NewRedisTokenStore(client)
	ctx := context.Background()

	expiresAt := time.Now().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, store.Save(ctx, "hash-1", "user-1", expiresAt))

	userID, gotExpiry, err := store.Consume(ctx, "hash-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
	assert.True(t, gotExpiry.Equal(expiresAt))

	userID, _, err = store.Consume(ctx, "hash-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	mr.FastForward(RefreshReuseInterval + time.Second)
	_, _, err = store.Consume(ctx, "hash-1", time.Now())
	assert.ErrorIs(t, err, ErrRefreshTokenNotFound)
}

func TestGormTokenStore_ConsumeAllowsShortReuse(t *testing.T) {
	gdb := setupAuthDB(t)
	store := NewGormTokenStore(gdb)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Save(ctx, "hash-1", "user-1", now.Add(time.Hour)))

	_, _, err := store.Consume(ctx, "hash-1", now)
	require.NoError(t, err)

	userID, _, err := store.Consume(ctx, "hash-1", now.Add(RefreshReuseInterval))
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	_, _, err = store.Consume(ctx, "hash-1", now.Add(RefreshReuseInterval+time.Second))
	assert.ErrorIs(t, err, ErrRefreshTokenNotFound)

	_, _, err = store.Consume(ctx, "never-saved", now)
	assert.ErrorIs(t, err, ErrRefreshTokenNotFound)
}

func TestRedisTokenStore_ExpiresWithTTL(t *testing.T) {
	mr, client := newMiniredisClient(t)
	store := NewRedisTokenStore(client)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "hash-ttl", "user-1", time.Now().Add(time.Minute)))
	mr.FastForward(2 * time.Minute)

	_, _, err := store.Consume(ctx, "hash-ttl", time.Now())
	assert.ErrorIs(t, err, ErrRefreshTokenNotFound)
}

func TestRedisTokenStore_DeleteAndMalformed(t *testing.T) {
	mr, client := newMiniredisClient(t)
	store := NewRedisTokenStore(client)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "hash-del", "user-1", time.Now().Add(time.Minute)))
	require.NoError(t, store.Delete(ctx, "hash-del"))
	_, _, err := store.Consume(ctx, "hash-del", time.Now())
	assert.ErrorIs(t, err, ErrRefreshTokenNotFound)

	require.NoError(t, mr.Set(redisTokenPrefix+"hash-bad", "garbage"))
	_, _, err = store.Consume(ctx, "hash-bad", time.Now())
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	assert.ErrorIs(t, store.Save(ctx, "hash-past", "user-1", time.Now().Add(-time.Second)), ErrInvalidRefreshToken)
}

func TestProviderWithRedisTokenStore(t *testing.T) {
	_, client := newMiniredisClient(t)
	gdb := setupAuthDB(t)
	provider := NewProvider(gdb, NewRedisTokenStore(client), ProviderOptions{Secret: []byte("k")}, logging.Discard())
	ctx := context.Background()

	_, err := provider.CreateUser(ctx, "admin@example.com", "pw")
	require.NoError(t, err)

	session, err := provider.SignInWithPassword(ctx, "admin@example.com", "pw")
	require.NoError(t, err)

	refreshed, err := provider.Refresh(ctx, session.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, refreshed.User.ID)

	again, err := provider.Refresh(ctx, session.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, refreshed.RefreshToken, again.RefreshToken)
}

func TestNewRedisClient(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	defer client.Close()

	mr.Close()
	_, err = NewRedisClient(context.Background(), mr.Addr())
	assert.Error(t, err)
}

func TestGormTokenStore_PurgeExpired(t *testing.T) {
	gdb := setupAuthDB(t)
	store := NewGormTokenStore(gdb)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Save(ctx, "old", "u", now.Add(-time.Hour)))
	require.NoError(t, store.Save(ctx, "new", "u", now.Add(time.Hour)))

	require.NoError(t, store.Save(ctx, "rotated", "u", now.Add(time.Hour)))
	_, _, err := store.Consume(ctx, "rotated", now.Add(-time.Minute))
	require.NoError(t, err)

	removed, err := store.PurgeExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	userID, _, err := store.Consume(ctx, "new", now)
	require.NoError(t, err)
	assert.Equal(t, "u", userID)
}
