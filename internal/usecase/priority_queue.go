// File: internal/usecase/priority_queue.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docqueue/internal/domain"
	"docqueue/internal/domain/model"
	"docqueue/internal/domain/ports/repository"
)

// PriorityQueue orders queued job ids in per-worker-type sorted sets, one
// per priority tier. Dispatch drains the high tier before normal, normal
// before low; inside a tier higher priority wins and age breaks ties.
type PriorityQueue struct {
	store repository.Store
}

func NewPriorityQueue(store repository.Store) *PriorityQueue {
	return &PriorityQueue{store: store}
}

func queueKey(workerType string, tier model.PriorityTier) string {
	return fmt.Sprintf("queue:%s:%s", workerType, tier)
}

// queueScore ranks a queued job. Priority dominates; the seconds term
// demotes later submissions so equal priorities dequeue oldest-first
// under a max-score pop.
func queueScore(priority int, createdAt time.Time) float64 {
	return float64(priority)*1000 - float64(createdAt.Unix())
}

func (q *PriorityQueue) Enqueue(ctx context.Context, job *model.Job) error {
	key := queueKey(job.WorkerType, model.TierFor(job.Priority))
	return q.store.ZAdd(ctx, key, job.ID, queueScore(job.Priority, job.CreatedAt))
}

// Pop removes and returns the next dispatchable job id for the worker
// type, or domain.ErrNotFound when every tier is empty.
func (q *PriorityQueue) Pop(ctx context.Context, workerType string) (string, error) {
	for _, tier := range model.Tiers() {
		members, err := q.store.ZPopMax(ctx, queueKey(workerType, tier), 1)
		if err != nil {
			return "", fmt.Errorf("pop %s/%s: %w", workerType, tier, err)
		}
		if len(members) > 0 {
			return members[0], nil
		}
	}
	return "", domain.ErrNotFound
}

// Remove drops a job id from its tier, e.g. after a cancellation. Missing
// members are not an error; a racing pop may have taken the entry first.
func (q *PriorityQueue) Remove(ctx context.Context, job *model.Job) error {
	return q.store.ZRem(ctx, queueKey(job.WorkerType, model.TierFor(job.Priority)), job.ID)
}

// Depth counts waiting jobs. With a worker type it sums that type's
// tiers; with an empty type it scans every queue key.
func (q *PriorityQueue) Depth(ctx context.Context, workerType string) (int64, error) {
	var keys []string
	if workerType != "" {
		for _, tier := range model.Tiers() {
			keys = append(keys, queueKey(workerType, tier))
		}
	} else {
		var err error
		keys, err = q.store.Keys(ctx, "queue:*")
		if err != nil {
			return 0, err
		}
	}
	var total int64
	for _, key := range keys {
		n, err := q.store.ZCard(ctx, key)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return 0, err
		}
		total += n
	}
	return total, nil
}
