package model

import (
	"fmt"
	"time"

	"docqueue/internal/domain"
)

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
	TaskStatusRetry     TaskStatus = "retry"
)

// Resolved reports whether this task has a recorded final outcome.
func (s TaskStatus) Resolved() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Task is the per-document unit of work inside a job.
type Task struct {
	ID           string
	JobID        string
	DocumentID   string
	Type         string
	Status       TaskStatus
	WorkerID     string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	RetryCount   int
	MaxRetries   int
	ErrorMessage string
	Result       any
}

// TaskID builds the deterministic identifier of the index-th task of a job.
func TaskID(jobID string, index int) string {
	return fmt.Sprintf("%s_task_%d", jobID, index)
}

func NewTask(jobID string, index int, documentID, taskType string, maxRetries int) (*Task, error) {
	if jobID == "" || documentID == "" || taskType == "" || index < 0 {
		return nil, domain.ErrInvalidArgument
	}
	return &Task{
		ID:         TaskID(jobID, index),
		JobID:      jobID,
		DocumentID: documentID,
		Type:       taskType,
		Status:     TaskStatusPending,
		CreatedAt:  time.Now(),
		MaxRetries: maxRetries,
	}, nil
}

// Reset rewinds the task to pending for another attempt, keeping the
// document binding but discarding the previous outcome.
func (t *Task) Reset() {
	t.Status = TaskStatusPending
	t.WorkerID = ""
	t.StartedAt = nil
	t.CompletedAt = nil
	t.ErrorMessage = ""
	t.Result = nil
	t.RetryCount++
}

// Clone returns a shallow-plus copy; Result is shared because outcomes are
// treated as immutable once recorded.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.StartedAt != nil {
		ts := *t.StartedAt
		cp.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		cp.CompletedAt = &ts
	}
	return &cp
}
