// Package cache keeps short-lived copies of wallet balances in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/baharkarakas/wallet-ledger/internal/models"
)

var ErrMiss = errors.New("cache miss")

type Balances interface {
	Get(ctx context.Context, userID string) (*models.Wallet, error)
	Set(ctx context.Context, w *models.Wallet) error
	Invalidate(ctx context.Context, userIDs ...string) error
}

// kv is the subset of redis.Cmdable used here.
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type RedisBalances struct {
	rdb kv
	ttl time.Duration
}

func NewRedisBalances(rdb kv, ttl time.Duration) *RedisBalances {
	return &RedisBalances{rdb: rdb, ttl: ttl}
}

func balanceKey(userID string) string { return "ledger:balance:" + userID }

func (c *RedisBalances) Get(ctx context.Context, userID string) (*models.Wallet, error) {
	raw, err := c.rdb.Get(ctx, balanceKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	var w models.Wallet
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, ErrMiss
	}
	return &w, nil
}

func (c *RedisBalances) Set(ctx context.Context, w *models.Wallet) error {
	b, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, balanceKey(w.UserID), b, c.ttl).Err()
}

func (c *RedisBalances) Invalidate(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = balanceKey(id)
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// Nop never stores anything; used when Redis is not configured.
type Nop struct{}

func (Nop) Get(context.Context, string) (*models.Wallet, error) { return nil, ErrMiss }
func (Nop) Set(context.Context, *models.Wallet) error           { return nil }
func (Nop) Invalidate(context.Context, ...string) error         { return nil }
