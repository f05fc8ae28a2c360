// File: internal/infra/redis/lock.go
package redis

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var (
	// ErrLockHeld means another scheduler instance owns the queue.
	ErrLockHeld = errors.New("scheduler lock is held by another instance")
	// ErrLockLost means the lease expired or was taken over mid-run.
	ErrLockLost = errors.New("scheduler lock was lost")
)

// Lock is a single-holder lease in redis. The scheduler takes it before
// restoring snapshots; in-memory state is authoritative while a process
// runs, so two instances dispatching from the same keyspace would tear
// each other's bookkeeping apart.
type Lock struct {
	c     *redClient
	key   string
	token string
	ttl   time.Duration
}

func NewLock(c *redClient, key string, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Lock{c: c, key: key, token: uuid.NewString(), ttl: ttl}
}

// Acquire takes the lease, retrying briefly in case a dying holder is
// still letting go.
func (l *Lock) Acquire(ctx context.Context) error {
	for i := 0; i < 5; i++ {
		ok, err := l.c.client().SetNX(ctx, l.key, l.token, l.ttl).Result()
		if err == nil && ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return ErrLockHeld
}

var luaRefresh = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end`)

// Refresh extends the lease for another TTL.
func (l *Lock) Refresh(ctx context.Context) error {
	n, err := luaRefresh.Run(ctx, l.c.client(), []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

// Release drops the lease if this instance still owns it.
func (l *Lock) Release(ctx context.Context) error {
	_, err := luaUnlock.Run(ctx, l.c.client(), []string{l.key}, l.token).Result()
	return err
}

// Keep refreshes the lease at a third of its TTL until ctx ends, then
// releases it. Run it on its own goroutine next to the monitor.
func (l *Lock) Keep(ctx context.Context) error {
	t := time.NewTicker(l.ttl / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return l.Release(rctx)
		case <-t.C:
			if err := l.Refresh(ctx); err != nil {
				return err
			}
		}
	}
}
