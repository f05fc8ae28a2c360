package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"docqueue/internal/config"
	"docqueue/internal/domain"
	"docqueue/internal/domain/ports/repository"

	"github.com/go-redis/redis/v8"
)

var (
	_ repository.Store       = (*redClient)(nil)
	_ repository.Reconnector = (*redClient)(nil)
)

// redClient adapts go-redis to the Store port. Reconnect swaps the
// underlying connection in place, so every method resolves the client
// under a read lock instead of caching it.
type redClient struct {
	mu   sync.RWMutex
	cli  *redis.Client
	opts *redis.Options
}

func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redClient, error) {
	opts := &redis.Options{
		Addr:     cfg.URL,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis at %s: %w", cfg.URL, err)
	}
	return &redClient{cli: c, opts: opts}, nil
}

func (c *redClient) client() *redis.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cli
}

func (c *redClient) Ping(ctx context.Context) error { return c.client().Ping(ctx).Err() }

func (c *redClient) ZAdd(ctx context.Context, key, member string, score float64) error {
	return c.client().ZAdd(ctx, key, &redis.Z{Score: score, Member: member}).Err()
}

func (c *redClient) ZPopMax(ctx context.Context, key string, count int64) ([]string, error) {
	zs, err := c.client().ZPopMax(ctx, key, count).Result()
	if err != nil {
		return nil, err
	}
	members := make([]string, 0, len(zs))
	for _, z := range zs {
		members = append(members, fmt.Sprint(z.Member))
	}
	return members, nil
}

func (c *redClient) ZRem(ctx context.Context, key, member string) error {
	return c.client().ZRem(ctx, key, member).Err()
}

func (c *redClient) ZCard(ctx context.Context, key string) (int64, error) {
	return c.client().ZCard(ctx, key).Result()
}

func (c *redClient) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client().Set(ctx, key, value, ttl).Err()
}

func (c *redClient) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client().Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrNotFound
	}
	return val, err
}

func (c *redClient) Del(ctx context.Context, keys ...string) error {
	return c.client().Del(ctx, keys...).Err()
}

func (c *redClient) Keys(ctx context.Context, pattern string) ([]string, error) {
	return c.client().Keys(ctx, pattern).Result()
}

// Reconnect dials a fresh connection with the original options and swaps
// it in. The old client is closed only after the new one answers a ping,
// so a failed reconnect leaves the previous connection untouched.
// FlushDB wipes the whole keyspace. Maintenance tooling only.
func (c *redClient) FlushDB(ctx context.Context) error {
	return c.client().FlushDB(ctx).Err()
}

func (c *redClient) Reconnect(ctx context.Context) error {
	fresh := redis.NewClient(c.opts)
	if err := fresh.Ping(ctx).Err(); err != nil {
		_ = fresh.Close()
		return fmt.Errorf("reconnect redis at %s: %w", c.opts.Addr, err)
	}
	c.mu.Lock()
	old := c.cli
	c.cli = fresh
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (c *redClient) Close() error { return c.client().Close() }
