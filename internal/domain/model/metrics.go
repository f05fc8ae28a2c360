package model

import "time"

// JobStatusInfo is the read-only view of a job handed to clients. It is a
// detached copy; mutating it has no effect on the scheduler.
type JobStatusInfo struct {
	JobID          string
	Type           string
	Status         JobStatus
	Priority       int
	Progress       float64
	TotalTasks     int
	CompletedTasks int
	FailedTasks    int
	WorkerType     string
	Timeout        time.Duration
	RetryCount     int
	MaxRetries     int
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	ErrorMessage   string
	Results        *ResultsSummary
}

// ResultsSummary carries just the outcome counts; the full per-document
// payload stays behind the results endpoint.
type ResultsSummary struct {
	Successful int
	Failed     int
}

// QueueMetrics is a point-in-time census of jobs and tasks, optionally
// narrowed to one worker type.
type QueueMetrics struct {
	WorkerType string
	TotalJobs  int
	Jobs       map[JobStatus]int
	Tasks      map[TaskStatus]int
	QueueDepth int64
}

// MetricsSnapshot is the rolled-up counter set the sampler refreshes and
// the health endpoint reports.
type MetricsSnapshot struct {
	JobsSubmitted     uint64
	JobsCompleted     uint64
	JobsFailed        uint64
	TasksProcessed    uint64
	QueueDepth        int64
	ActiveAssignments int
	MaxWorkers        int
	WorkerUtilization float64
	SampledAt         time.Time
}

// HealthStatus reports scheduler liveness for the health endpoint.
type HealthStatus struct {
	Status         string
	StoreConnected bool
	Totals         MetricsSnapshot
}

const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
)
