// File: internal/infra/redis/sealed_store.go
package redis

import (
	"context"
	"fmt"
	"time"

	"docqueue/internal/domain/ports/repository"
	"docqueue/internal/infra/security"
)

var (
	_ repository.Store       = (*SealedStore)(nil)
	_ repository.Reconnector = (*SealedStore)(nil)
)

// SealedStore decorates a Store and encrypts snapshot values at rest.
// Sorted-set members and keys are queue-internal ids, never payloads, so
// only SetEx and Get go through the cipher; everything else passes through.
type SealedStore struct {
	inner  repository.Store
	cipher *security.Cipher
}

func NewSealedStore(inner repository.Store, cipher *security.Cipher) *SealedStore {
	return &SealedStore{inner: inner, cipher: cipher}
}

func (s *SealedStore) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	sealed, err := s.cipher.Seal(value)
	if err != nil {
		return fmt.Errorf("seal %s: %w", key, err)
	}
	return s.inner.SetEx(ctx, key, sealed, ttl)
}

func (s *SealedStore) Get(ctx context.Context, key string) (string, error) {
	sealed, err := s.inner.Get(ctx, key)
	if err != nil {
		return "", err
	}
	plain, err := s.cipher.Open(sealed)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", key, err)
	}
	return plain, nil
}

func (s *SealedStore) ZAdd(ctx context.Context, key, member string, score float64) error {
	return s.inner.ZAdd(ctx, key, member, score)
}

func (s *SealedStore) ZPopMax(ctx context.Context, key string, count int64) ([]string, error) {
	return s.inner.ZPopMax(ctx, key, count)
}

func (s *SealedStore) ZRem(ctx context.Context, key, member string) error {
	return s.inner.ZRem(ctx, key, member)
}

func (s *SealedStore) ZCard(ctx context.Context, key string) (int64, error) {
	return s.inner.ZCard(ctx, key)
}

func (s *SealedStore) Del(ctx context.Context, keys ...string) error {
	return s.inner.Del(ctx, keys...)
}

func (s *SealedStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	return s.inner.Keys(ctx, pattern)
}

func (s *SealedStore) Ping(ctx context.Context) error { return s.inner.Ping(ctx) }

// Reconnect delegates to the wrapped store. A store without connection
// state has nothing to rebuild.
func (s *SealedStore) Reconnect(ctx context.Context) error {
	if rc, ok := s.inner.(repository.Reconnector); ok {
		return rc.Reconnect(ctx)
	}
	return nil
}

// Close mirrors the wrapped store's Close when it has one.
func (s *SealedStore) Close() error {
	if c, ok := s.inner.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
