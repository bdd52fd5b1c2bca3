package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"teamledger.io/internal/obs"
	"teamledger.io/internal/tenancy"
)

const (
	defaultKeyPrefix = "teamledger:perms:"
	scanBatch        = 500
)

// Redis shares permission sets between server replicas. Redis failures are
// logged and treated as cache misses.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ tenancy.PermissionCache = (*Redis)(nil)

func NewRedis(client redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) redisKey(key string) string { return r.prefix + key }

func (r *Redis) Get(ctx context.Context, key string) ([]string, bool) {
	raw, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			obs.Logger().Warn("permission cache get failed", zap.String("key", key), zap.Error(err))
		}
		obs.ObserveCache(ModeRedis, false)
		return nil, false
	}
	perms, ok := decode(raw, time.Now())
	obs.ObserveCache(ModeRedis, ok)
	return perms, ok
}

func (r *Redis) Set(ctx context.Context, key string, perms []string) {
	raw, err := encode(perms, time.Time{})
	if err != nil {
		obs.Logger().Warn("permission cache encode failed", zap.Error(err))
		return
	}
	if err := r.client.Set(ctx, r.redisKey(key), raw, r.ttl).Err(); err != nil {
		obs.Logger().Warn("permission cache set failed", zap.String("key", key), zap.Error(err))
	}
}

func (r *Redis) Invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.redisKey(k)
	}
	if err := r.client.Del(ctx, full...).Err(); err != nil {
		obs.Logger().Warn("permission cache invalidate failed", zap.Strings("keys", full), zap.Error(err))
	}
}

// Purge deletes every key under the prefix, scanning in batches.
func (r *Redis) Purge(ctx context.Context) {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", scanBatch).Result()
		if err != nil {
			obs.Logger().Warn("permission cache purge failed", zap.Error(err))
			return
		}
		if len(keys) > 0 {
			if err := r.client.Unlink(ctx, keys...).Err(); err != nil {
				obs.Logger().Warn("permission cache purge failed", zap.Error(err))
				return
			}
		}
		if next == 0 {
			return
		}
		cursor = next
	}
}

// Ping checks connectivity; the server calls it at startup.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client's connections.
func (r *Redis) Close() error {
	return r.client.Close()
}
