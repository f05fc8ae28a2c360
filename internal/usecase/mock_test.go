//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"docqueue/internal/domain"
	"docqueue/internal/domain/model"
	"docqueue/internal/domain/ports/repository"
)

// =============================
// Mock Store
// =============================

// MockStore is an in-memory stand-in for the Redis-backed store. It
// implements real sorted-set and key-value semantics so use case tests
// exercise genuine ordering, and every method can be overridden through
// its corresponding Func field to inject failures.
type MockStore struct {
	mu    sync.Mutex
	kv    map[string]string
	zsets map[string]map[string]float64

	ZAddFunc    func(ctx context.Context, key, member string, score float64) error
	ZPopMaxFunc func(ctx context.Context, key string, count int64) ([]string, error)
	ZRemFunc    func(ctx context.Context, key, member string) error
	ZCardFunc   func(ctx context.Context, key string) (int64, error)
	SetExFunc   func(ctx context.Context, key, value string, ttl time.Duration) error
	GetFunc     func(ctx context.Context, key string) (string, error)
	DelFunc     func(ctx context.Context, keys ...string) error
	KeysFunc    func(ctx context.Context, pattern string) ([]string, error)
	PingFunc    func(ctx context.Context) error
}

var _ repository.Store = (*MockStore)(nil)

func NewMockStore() *MockStore {
	return &MockStore{
		kv:    make(map[string]string),
		zsets: make(map[string]map[string]float64),
	}
}

func (m *MockStore) ZAdd(ctx context.Context, key, member string, score float64) error {
	if m.ZAddFunc != nil {
		return m.ZAddFunc(ctx, key, member, score)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.zsets[key] == nil {
		m.zsets[key] = make(map[string]float64)
	}
	m.zsets[key][member] = score
	return nil
}

func (m *MockStore) ZPopMax(ctx context.Context, key string, count int64) ([]string, error) {
	if m.ZPopMaxFunc != nil {
		return m.ZPopMaxFunc(ctx, key, count)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.zsets[key]
	type pair struct {
		member string
		score  float64
	}
	pairs := make([]pair, 0, len(set))
	for member, score := range set {
		pairs = append(pairs, pair{member, score})
	}
	sort.Slice(pairs, func(a, b int) bool {
		if pairs[a].score != pairs[b].score {
			return pairs[a].score > pairs[b].score
		}
		return pairs[a].member > pairs[b].member
	})
	if int64(len(pairs)) > count {
		pairs = pairs[:count]
	}
	members := make([]string, 0, len(pairs))
	for _, p := range pairs {
		delete(set, p.member)
		members = append(members, p.member)
	}
	return members, nil
}

func (m *MockStore) ZRem(ctx context.Context, key, member string) error {
	if m.ZRemFunc != nil {
		return m.ZRemFunc(ctx, key, member)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.zsets[key], member)
	return nil
}

func (m *MockStore) ZCard(ctx context.Context, key string) (int64, error) {
	if m.ZCardFunc != nil {
		return m.ZCardFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.zsets[key])), nil
}

func (m *MockStore) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	if m.SetExFunc != nil {
		return m.SetExFunc(ctx, key, value, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = value
	return nil
}

func (m *MockStore) Get(ctx context.Context, key string) (string, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.kv[key]
	if !ok {
		return "", domain.ErrNotFound
	}
	return val, nil
}

func (m *MockStore) Del(ctx context.Context, keys ...string) error {
	if m.DelFunc != nil {
		return m.DelFunc(ctx, keys...)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.kv, key)
	}
	return nil
}

func (m *MockStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	if m.KeysFunc != nil {
		return m.KeysFunc(ctx, pattern)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for key := range m.kv {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	for key, set := range m.zsets {
		if strings.HasPrefix(key, prefix) && len(set) > 0 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MockStore) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

// HasKey reports whether a plain key is currently present.
func (m *MockStore) HasKey(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.kv[key]
	return ok
}

// QueueLen returns the cardinality of one sorted-set key.
func (m *MockStore) QueueLen(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.zsets[key])
}

// =============================
// Mock Archive
// =============================

type archivedJob struct {
	Job   *model.Job
	Tasks []*model.Task
}

type MockArchive struct {
	mu       sync.Mutex
	Archived []archivedJob

	ArchiveJobFunc func(ctx context.Context, tx repository.Tx, job *model.Job, tasks []*model.Task) error
}

var _ repository.JobArchive = (*MockArchive)(nil)

func (m *MockArchive) ArchiveJob(ctx context.Context, tx repository.Tx, job *model.Job, tasks []*model.Task) error {
	if m.ArchiveJobFunc != nil {
		return m.ArchiveJobFunc(ctx, tx, job, tasks)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Archived = append(m.Archived, archivedJob{Job: job, Tasks: tasks})
	return nil
}

func (m *MockArchive) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Archived)
}

// newTestLogger creates a silent zerolog.Logger for use in tests.
// It writes to io.Discard to prevent logs from cluttering test output.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}
