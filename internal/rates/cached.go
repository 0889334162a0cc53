package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/baharkarakas/wallet-ledger/internal/models"
)

// Cache is the slice of a key/value store the cached provider needs.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// ErrCacheMiss is returned by Cache.Get for absent keys.
var ErrCacheMiss = errors.New("cache miss")

// CachedProvider puts a shared cache in front of another provider and
// collapses concurrent lookups of the same pair into one upstream call.
type CachedProvider struct {
	next  Provider
	cache Cache
	ttl   time.Duration
	group singleflight.Group
}

func NewCachedProvider(next Provider, cache Cache, ttl time.Duration) *CachedProvider {
	return &CachedProvider{next: next, cache: cache, ttl: ttl}
}

func cacheKey(from, to models.Currency) string {
	return fmt.Sprintf("ledger:rate:%s:%s", from, to)
}

func (p *CachedProvider) GetRate(ctx context.Context, from, to models.Currency) (Quote, error) {
	key := cacheKey(from, to)
	if raw, err := p.cache.Get(ctx, key); err == nil {
		var q Quote
		if err := json.Unmarshal([]byte(raw), &q); err == nil {
			return q, nil
		}
	} else if !errors.Is(err, ErrCacheMiss) {
		slog.Warn("rate cache read failed", "key", key, "err", err)
	}

	v, err, _ := p.group.Do(key, func() (any, error) {
		q, err := p.next.GetRate(ctx, from, to)
		if err != nil {
			return Quote{}, err
		}
		if b, err := json.Marshal(q); err == nil {
			if err := p.cache.Set(ctx, key, string(b), p.ttl); err != nil {
				slog.Warn("rate cache write failed", "key", key, "err", err)
			}
		}
		return q, nil
	})
	if err != nil {
		return Quote{}, err
	}
	return v.(Quote), nil
}

// RedisCache adapts a go-redis client to Cache.
type RedisCache struct{ rdb redis.Cmdable }

func NewRedisCache(rdb redis.Cmdable) *RedisCache { return &RedisCache{rdb: rdb} }

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return v, err
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}
