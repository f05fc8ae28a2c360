package model

import (
	"fmt"
	"time"

	"docqueue/internal/domain"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusTimeout   JobStatus = "timeout"
)

// Terminal reports whether a job in this status will never transition again
// on its own. Failed jobs can still be re-dispatched through an explicit retry.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusTimeout:
		return true
	}
	return false
}

// Priority tier cutoffs. Values at or above HighPriorityMin dispatch before
// everything else; values at or below LowPriorityMax dispatch last.
const (
	HighPriorityMin = 10
	LowPriorityMax  = -10
)

type PriorityTier string

const (
	TierHigh   PriorityTier = "high"
	TierNormal PriorityTier = "normal"
	TierLow    PriorityTier = "low"
)

// Tiers returns all priority tiers in dispatch order.
func Tiers() []PriorityTier {
	return []PriorityTier{TierHigh, TierNormal, TierLow}
}

// TierFor maps a numeric priority onto its dispatch tier.
func TierFor(priority int) PriorityTier {
	switch {
	case priority >= HighPriorityMin:
		return TierHigh
	case priority <= LowPriorityMax:
		return TierLow
	default:
		return TierNormal
	}
}

// Job is a unit of client-submitted work fanned out over one task per document.
type Job struct {
	ID             string
	Type           string
	Documents      []string
	Options        map[string]any
	Status         JobStatus
	Priority       int
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	TotalTasks     int
	CompletedTasks int
	FailedTasks    int
	Progress       float64
	WorkerType     string
	Timeout        time.Duration
	RetryCount     int
	MaxRetries     int
	ErrorMessage   string
	Results        *JobResults
}

// JobResults aggregates per-document outcomes once a job finishes.
type JobResults struct {
	Successful int
	Failed     int
	Documents  map[string]any
	Errors     map[string]string
}

func NewJob(id, jobType string, documents []string, options map[string]any, priority int, workerType string, timeout time.Duration, maxRetries int) (*Job, error) {
	if id == "" || jobType == "" {
		return nil, domain.ErrInvalidArgument
	}
	if len(documents) == 0 {
		return nil, fmt.Errorf("%w: job needs at least one document", domain.ErrInvalidArgument)
	}
	if workerType == "" || timeout <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	docs := make([]string, len(documents))
	copy(docs, documents)
	return &Job{
		ID:         id,
		Type:       jobType,
		Documents:  docs,
		Options:    cloneOptions(options),
		Status:     JobStatusPending,
		Priority:   priority,
		CreatedAt:  time.Now(),
		TotalTasks: len(documents),
		WorkerType: workerType,
		Timeout:    timeout,
		MaxRetries: maxRetries,
	}, nil
}

// RecomputeProgress derives Progress from the task counters.
func (j *Job) RecomputeProgress() {
	if j.TotalTasks <= 0 {
		j.Progress = 0
		return
	}
	j.Progress = float64(j.CompletedTasks+j.FailedTasks) / float64(j.TotalTasks)
}

// Retryable reports whether an explicit retry may re-dispatch this job.
func (j *Job) Retryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// Deadline returns the instant after which a dispatched job is considered
// stuck. The zero time means the job has not started yet.
func (j *Job) Deadline() time.Time {
	if j.StartedAt == nil {
		return time.Time{}
	}
	return j.StartedAt.Add(j.Timeout)
}

// ResetForRetry rewinds a failed job to pending so it can be queued again.
// Counters, aggregates and timestamps from the previous attempt are discarded.
func (j *Job) ResetForRetry() {
	j.Status = JobStatusPending
	j.CompletedTasks = 0
	j.FailedTasks = 0
	j.Progress = 0
	j.StartedAt = nil
	j.CompletedAt = nil
	j.ErrorMessage = ""
	j.Results = nil
	j.RetryCount++
}

// Clone returns a deep copy safe to hand outside the scheduler's lock.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Documents = make([]string, len(j.Documents))
	copy(cp.Documents, j.Documents)
	cp.Options = cloneOptions(j.Options)
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	cp.Results = j.Results.Clone()
	return &cp
}

func (r *JobResults) Clone() *JobResults {
	if r == nil {
		return nil
	}
	cp := &JobResults{Successful: r.Successful, Failed: r.Failed}
	if r.Documents != nil {
		cp.Documents = make(map[string]any, len(r.Documents))
		for k, v := range r.Documents {
			cp.Documents[k] = v
		}
	}
	if r.Errors != nil {
		cp.Errors = make(map[string]string, len(r.Errors))
		for k, v := range r.Errors {
			cp.Errors[k] = v
		}
	}
	return cp
}

func cloneOptions(options map[string]any) map[string]any {
	if options == nil {
		return nil
	}
	cp := make(map[string]any, len(options))
	for k, v := range options {
		cp[k] = v
	}
	return cp
}
