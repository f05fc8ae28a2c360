// File: internal/usecase/snapshots.go
package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"docqueue/internal/domain/model"
	"docqueue/internal/domain/ports/repository"
)

const (
	jobKeyPrefix  = "job:"
	taskKeyPrefix = "task:"

	// Job snapshots outlive the processing timeout by this much so status
	// stays queryable for a while after the job settles. Task snapshots
	// use the grace period directly.
	snapshotGrace = time.Hour
)

// snapshots writes point-in-time JSON copies of jobs and tasks into the
// store. The in-memory state is authoritative while the process lives;
// snapshots exist so a restart can rebuild it.
type snapshots struct {
	store repository.Store
}

func (s snapshots) saveJob(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	return s.store.SetEx(ctx, jobKeyPrefix+job.ID, string(data), job.Timeout+snapshotGrace)
}

func (s snapshots) saveTask(ctx context.Context, task *model.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", task.ID, err)
	}
	return s.store.SetEx(ctx, taskKeyPrefix+task.ID, string(data), snapshotGrace)
}

func (s snapshots) loadJobs(ctx context.Context) ([]*model.Job, error) {
	keys, err := s.store.Keys(ctx, jobKeyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("list job snapshots: %w", err)
	}
	jobs := make([]*model.Job, 0, len(keys))
	for _, key := range keys {
		data, err := s.store.Get(ctx, key)
		if err != nil {
			// Expired between Keys and Get; nothing to restore.
			continue
		}
		var job model.Job
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", key, err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

func (s snapshots) loadTasks(ctx context.Context) ([]*model.Task, error) {
	keys, err := s.store.Keys(ctx, taskKeyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("list task snapshots: %w", err)
	}
	tasks := make([]*model.Task, 0, len(keys))
	for _, key := range keys {
		data, err := s.store.Get(ctx, key)
		if err != nil {
			continue
		}
		var task model.Task
		if err := json.Unmarshal([]byte(data), &task); err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", key, err)
		}
		tasks = append(tasks, &task)
	}
	return tasks, nil
}

// delete evicts a job snapshot together with its task snapshots.
func (s snapshots) delete(ctx context.Context, jobID string, taskIDs []string) error {
	keys := make([]string, 0, len(taskIDs)+1)
	keys = append(keys, jobKeyPrefix+jobID)
	for _, id := range taskIDs {
		keys = append(keys, taskKeyPrefix+id)
	}
	return s.store.Del(ctx, keys...)
}
