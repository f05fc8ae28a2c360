package repository

import (
	"context"
	"time"
)

// Store is the key-value and sorted-set surface the scheduler persists
// through. It matches the Redis command subset the queue relies on so the
// implementation can be swapped for any Redis-compatible server.
//
// Get returns domain.ErrNotFound for missing or expired keys. ZPopMax
// must remove and return the highest-scoring members atomically; the
// dispatch path depends on two concurrent poppers never receiving the
// same member.
type Store interface {
	ZAdd(ctx context.Context, key, member string, score float64) error
	ZPopMax(ctx context.Context, key string, count int64) ([]string, error)
	ZRem(ctx context.Context, key, member string) error
	ZCard(ctx context.Context, key string) (int64, error)
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	Ping(ctx context.Context) error
}

// Reconnector is implemented by stores that can rebuild a dead connection
// in place. The watchdog calls it after failed pings; callers keep using
// the same Store value throughout.
type Reconnector interface {
	Reconnect(ctx context.Context) error
}
