package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/inkblog/internal/db"
	"github.com/inkblog/internal/metrics"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// RefreshReuseInterval is how long a rotated refresh token can still be
// exchanged. Parallel requests carrying the same cookie all refresh
// successfully instead of one of them signing the admin out.
const RefreshReuseInterval = 10 * time.Second

// TokenStore keeps refresh tokens by hash. Consume marks a token as used; a
// used token can be consumed again only within RefreshReuseInterval.
type TokenStore interface {
	Save(ctx context.Context, hash, userID string, expiresAt time.Time) error
	Consume(ctx context.Context, hash string, now time.Time) (userID string, expiresAt time.Time, err error)
	Delete(ctx context.Context, hash string) error
}

// GormTokenStore stores refresh tokens in the content store.
type GormTokenStore struct {
	db *gorm.DB
}

// NewGormTokenStore creates a GormTokenStore.
func NewGormTokenStore(gdb *gorm.DB) *GormTokenStore {
	return &GormTokenStore{db: gdb}
}

func (s *GormTokenStore) Save(ctx context.Context, hash, userID string, expiresAt time.Time) error {
	return s.db.WithContext(ctx).Create(&db.RefreshToken{
		TokenHash: hash,
		UserID:    userID,
		ExpiresAt: expiresAt,
	}).Error
}

func (s *GormTokenStore) Consume(ctx context.Context, hash string, now time.Time) (string, time.Time, error) {
	var token db.RefreshToken
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("token_hash = ?", hash).First(&token).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRefreshTokenNotFound
			}
			return err
		}
		if token.ConsumedAt != nil {
			return checkReuse(*token.ConsumedAt, now)
		}

		result := tx.Model(&db.RefreshToken{}).
			Where("id = ? AND consumed_at IS NULL", token.ID).
			Update("consumed_at", now)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// 并发刷新时另一方先标记了这一行
			if err := tx.Where("id = ?", token.ID).First(&token).Error; err != nil {
				return ErrRefreshTokenNotFound
			}
			if token.ConsumedAt == nil {
				return ErrRefreshTokenNotFound
			}
			return checkReuse(*token.ConsumedAt, now)
		}
		return nil
	})
	if err != nil {
		return "", time.Time{}, err
	}
	return token.UserID, token.ExpiresAt, nil
}

func checkReuse(consumedAt, now time.Time) error {
	if now.Sub(consumedAt) > RefreshReuseInterval {
		return ErrRefreshTokenNotFound
	}
	return nil
}

func (s *GormTokenStore) Delete(ctx context.Context, hash string) error {
	return s.db.WithContext(ctx).Where("token_hash = ?", hash).Delete(&db.RefreshToken{}).Error
}

// PurgeExpired removes refresh tokens that expired before now, and rotated
// tokens whose reuse interval has passed.
func (s *GormTokenStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ? OR consumed_at < ?", now, now.Add(-RefreshReuseInterval)).
		Delete(&db.RefreshToken{})
	return result.RowsAffected, result.Error
}

const (
	redisTokenPrefix = "inkblog:refresh:"
	redisUsedPrefix  = "inkblog:refresh-used:"
)

// consumeScript 原子地把令牌移到 used 键，used 键只保留重放窗口那么久。
var consumeScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v then
	redis.call('DEL', KEYS[1])
	redis.call('SET', KEYS[2], v, 'PX', ARGV[1])
	return v
end
return redis.call('GET', KEYS[2])
`)

// RedisTokenStore stores refresh tokens in Redis with a TTL matching the
// token expiry. Values are "userID|expiresUnix". A consumed token moves to a
// used key that lives for RefreshReuseInterval.
type RedisTokenStore struct {
	client *redis.Client
}

// NewRedisTokenStore creates a RedisTokenStore.
func NewRedisTokenStore(client *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{client: client}
}

func (s *RedisTokenStore) Save(ctx context.Context, hash, userID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return ErrInvalidRefreshToken
	}
	value := userID + "|" + strconv.FormatInt(expiresAt.Unix(), 10)
	return s.client.Set(ctx, redisTokenPrefix+hash, value, ttl).Err()
}

func (s *RedisTokenStore) Consume(ctx context.Context, hash string, _ time.Time) (string, time.Time, error) {
	keys := []string{redisTokenPrefix + hash, redisUsedPrefix + hash}
	value, err := consumeScript.Run(ctx, s.client, keys, RefreshReuseInterval.Milliseconds()).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", time.Time{}, ErrRefreshTokenNotFound
		}
		return "", time.Time{}, err
	}

	userID, rawExpiry, ok := strings.Cut(value, "|")
	if !ok || userID == "" {
		return "", time.Time{}, ErrInvalidRefreshToken
	}
	unix, err := strconv.ParseInt(rawExpiry, 10, 64)
	if err != nil {
		return "", time.Time{}, ErrInvalidRefreshToken
	}
	return userID, time.Unix(unix, 0), nil
}

func (s *RedisTokenStore) Delete(ctx context.Context, hash string) error {
	return s.client.Del(ctx, redisTokenPrefix+hash, redisUsedPrefix+hash).Err()
}

type metricsHook struct{}

func (metricsHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (metricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if err != nil && !errors.Is(err, redis.Nil) && !redis.HasErrorPrefix(err, "NOSCRIPT") {
			metrics.StoreErrors.WithLabelValues("redis_" + cmd.Name()).Inc()
		}
		return err
	}
}

func (metricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		if err != nil && !errors.Is(err, redis.Nil) {
			metrics.StoreErrors.WithLabelValues("redis_pipeline").Inc()
		}
		return err
	}
}

// NewRedisClient connects to addr, which may be a redis:// URL or host:port,
// and verifies the connection with PING.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	var opts *redis.Options
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: addr}
	}

	client := redis.NewClient(opts)
	client.AddHook(metricsHook{})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
