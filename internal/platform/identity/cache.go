package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hanko-field/orders/internal/services"
)

const (
	defaultCacheTTL     = 5 * time.Minute
	maxNegativeCacheTTL = 30 * time.Second
	cacheKeyPrefix      = "orders:user-exists:"
)

// CacheStore is the key/value surface the cache needs.
type CacheStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// RedisStore adapts a go-redis client to CacheStore.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore returns a RedisStore for client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get implements CacheStore; a missing key is not an error.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set implements CacheStore.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// CachedDirectory fronts a UserDirectory with a shared cache. Concurrent misses for one user share
// a single lookup. Negative answers are kept briefly so newly created users become visible soon.
// Cache failures are logged and the source is consulted directly.
type CachedDirectory struct {
	source      services.UserDirectory
	store       CacheStore
	ttl         time.Duration
	negativeTTL time.Duration
	logger      *zap.Logger
	group       singleflight.Group
}

// NewCachedDirectory wraps source. A non-positive ttl uses five minutes.
func NewCachedDirectory(source services.UserDirectory, store CacheStore, ttl time.Duration, logger *zap.Logger) (*CachedDirectory, error) {
	if source == nil || store == nil {
		return nil, errors.New("cached directory: source and store are required")
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedDirectory{
		source:      source,
		store:       store,
		ttl:         ttl,
		negativeTTL: min(ttl, maxNegativeCacheTTL),
		logger:      logger,
	}, nil
}

// UserExists implements services.UserDirectory.
func (d *CachedDirectory) UserExists(ctx context.Context, userID int64) (bool, error) {
	key := cacheKeyPrefix + strconv.FormatInt(userID, 10)
	if exists, ok := d.cached(ctx, key); ok {
		return exists, nil
	}

	out, err, _ := d.group.Do(key, func() (any, error) {
		if exists, ok := d.cached(ctx, key); ok {
			return exists, nil
		}
		exists, err := d.source.UserExists(ctx, userID)
		if err != nil {
			return false, err
		}
		value, ttl := "1", d.ttl
		if !exists {
			value, ttl = "0", d.negativeTTL
		}
		if err := d.store.Set(ctx, key, value, ttl); err != nil {
			d.logger.Warn("identity cache write failed", zap.Int64("user_id", userID), zap.Error(err))
		}
		return exists, nil
	})
	if err != nil {
		return false, fmt.Errorf("cached directory: %w", err)
	}
	return out.(bool), nil
}

func (d *CachedDirectory) cached(ctx context.Context, key string) (bool, bool) {
	value, ok, err := d.store.Get(ctx, key)
	if err != nil {
		d.logger.Warn("identity cache read failed", zap.String("key", key), zap.Error(err))
		return false, false
	}
	if !ok {
		return false, false
	}
	return value == "1", true
}
