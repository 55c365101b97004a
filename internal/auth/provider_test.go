package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/inkblog/internal/db"
	"github.com/inkblog/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupAuthDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:auth-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := db.Open(db.Options{Driver: db.DriverSQLite, URL: dsn, Silent: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gdb
}

func newTestProvider(t *testing.T) (*Provider, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Now().Truncate(time.Second)}
	gdb := setupAuthDB(t)
	provider := NewProvider(gdb, NewGormTokenStore(gdb), ProviderOptions{
		Secret:     []byte("test-service-key"),
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		Now:        clock.Now,
	}, logging.Discard())

	_, err := provider.CreateUser(context.Background(), "Admin@Example.com", "correct horse")
	require.NoError(t, err)
	return provider, clock
}

func TestProvider_SignInWithPassword(t *testing.T) {
	provider, _ := newTestProvider(t)
	ctx := context.Background()

	session, err := provider.SignInWithPassword(ctx, " admin@example.com ", "correct horse")
	require.NoError(t, err)
	assert.NotEmpty(t, session.AccessToken)
	assert.NotEmpty(t, session.RefreshToken)
	assert.Equal(t, "admin@example.com", session.User.Email)

	identity, err := provider.VerifyAccessToken(session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, session.User, *identity)

	_, err = provider.SignInWithPassword(ctx, "admin@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = provider.SignInWithPassword(ctx, "nobody@example.com", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.False(t, IsTokenError(ErrInvalidCredentials))
}

func TestProvider_VerifyAccessToken(t *testing.T) {
	provider, clock := newTestProvider(t)

	session, err := provider.SignInWithPassword(context.Background(), "admin@example.com", "correct horse")
	require.NoError(t, err)

	t.Run("tampered", func(t *testing.T) {
		_, err := provider.VerifyAccessToken(session.AccessToken + "x")
		assert.ErrorIs(t, err, ErrInvalidToken)
		assert.True(t, IsTokenError(err))
	})

	t.Run("foreign secret", func(t *testing.T) {
		forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   session.User.ID,
			Issuer:    defaultIssuer,
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		}).SignedString([]byte("someone-else"))
		require.NoError(t, err)

		_, err = provider.VerifyAccessToken(forged)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := provider.VerifyAccessToken("")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		clock.Advance(2 * time.Hour)
		_, err := provider.VerifyAccessToken(session.AccessToken)
		assert.ErrorIs(t, err, ErrSessionExpired)
		assert.True(t, IsTokenError(err))
	})
}

func TestProvider_RefreshRotatesToken(t *testing.T) {
	provider, clock := newTestProvider(t)
	ctx := context.Background()

	session, err := provider.SignInWithPassword(ctx, "admin@example.com", "correct horse")
	require.NoError(t, err)

	refreshed, err := provider.Refresh(ctx, session.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, session.RefreshToken, refreshed.RefreshToken)
	assert.Equal(t, session.User, refreshed.User)

	// 重放窗口内拿到同一个轮换结果
	clock.Advance(5 * time.Second)
	again, err := provider.Refresh(ctx, session.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, refreshed.RefreshToken, again.RefreshToken)
	assert.Equal(t, refreshed.AccessToken, again.AccessToken)

	clock.Advance(RefreshReuseInterval)
	_, err = provider.Refresh(ctx, session.RefreshToken)
	assert.ErrorIs(t, err, ErrRefreshTokenNotFound)

	// 轮换出的新令牌仍然可用
	_, err = provider.Refresh(ctx, refreshed.RefreshToken)
	require.NoError(t, err)

	_, err = provider.Refresh(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestProvider_RefreshAfterExpiry(t *testing.T) {
	provider, clock := newTestProvider(t)
	ctx := context.Background()

	session, err := provider.SignInWithPassword(ctx, "admin@example.com", "correct horse")
	require.NoError(t, err)

	clock.Advance(25 * time.Hour)
	_, err = provider.Refresh(ctx, session.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestProvider_Revoke(t *testing.T) {
	provider, _ := newTestProvider(t)
	ctx := context.Background()

	session, err := provider.SignInWithPassword(ctx, "admin@example.com", "correct horse")
	require.NoError(t, err)

	require.NoError(t, provider.Revoke(ctx, session.RefreshToken))
	require.NoError(t, provider.Revoke(ctx, "never-issued"))

	_, err = provider.Refresh(ctx, session.RefreshToken)
	assert.True(t, errors.Is(err, ErrRefreshTokenNotFound))
}

func TestProvider_RefreshReuseAcrossProviders(t *testing.T) {
	provider, clock := newTestProvider(t)
	other := NewProvider(provider.db, provider.tokens, ProviderOptions{
		Secret: []byte("test-service-key"),
		Now:    clock.Now,
	}, logging.Discard())
	ctx := context.Background()

	session, err := provider.SignInWithPassword(ctx, "admin@example.com", "correct horse")
	require.NoError(t, err)

	first, err := provider.Refresh(ctx, session.RefreshToken)
	require.NoError(t, err)

	// 另一个实例没有缓存，仍在窗口内时签发一个同样有效的会话
	second, err := other.Refresh(ctx, session.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, first.User, second.User)

	clock.Advance(RefreshReuseInterval + time.Second)
	_, err = other.Refresh(ctx, session.RefreshToken)
	assert.ErrorIs(t, err, ErrRefreshTokenNotFound)
}

func TestProvider_RevokeDropsRotatedSession(t *testing.T) {
	provider, _ := newTestProvider(t)
	ctx := context.Background()

	session, err := provider.SignInWithPassword(ctx, "admin@example.com", "correct horse")
	require.NoError(t, err)
	refreshed, err := provider.Refresh(ctx, session.RefreshToken)
	require.NoError(t, err)

	require.NoError(t, provider.Revoke(ctx, refreshed.RefreshToken))
	_, err = provider.Refresh(ctx, refreshed.RefreshToken)
	assert.ErrorIs(t, err, ErrRefreshTokenNotFound)

	again, err := provider.Refresh(ctx, session.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, refreshed.RefreshToken, again.RefreshToken, "a revoked session is never handed out again")
}

func TestProvider_EnsureUserKeepsExistingPassword(t *testing.T) {
	provider, _ := newTestProvider(t)
	ctx := context.Background()

	user, created, err := provider.EnsureUser(ctx, "admin@example.com", "other password")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "admin@example.com", user.Email)

	_, err = provider.SignInWithPassword(ctx, "admin@example.com", "correct horse")
	assert.NoError(t, err)

	_, created, err = provider.EnsureUser(ctx, "second@example.com", "pw")
	require.NoError(t, err)
	assert.True(t, created)

	_, err = provider.CreateUser(ctx, "ADMIN@example.com", "pw")
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestProvider_SetPassword(t *testing.T) {
	provider, _ := newTestProvider(t)
	ctx := context.Background()

	require.NoError(t, provider.SetPassword(ctx, "admin@example.com", "new secret"))

	_, err := provider.SignInWithPassword(ctx, "admin@example.com", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = provider.SignInWithPassword(ctx, "admin@example.com", "new secret")
	assert.NoError(t, err)

	assert.ErrorIs(t, provider.SetPassword(ctx, "ghost@example.com", "x"), gorm.ErrRecordNotFound)
}
