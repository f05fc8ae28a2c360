// File: internal/usecase/job_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"docqueue/internal/config"
	"docqueue/internal/domain"
	"docqueue/internal/domain/model"
	"docqueue/internal/domain/ports/repository"
	"docqueue/internal/infra/logging"
	"docqueue/internal/infra/metrics"
	"docqueue/internal/retry"
)

// Compile-time check
var _ JobUseCase = (*jobUC)(nil)

// JobUseCase is the client- and worker-facing surface of the queue.
type JobUseCase interface {
	// SubmitJob validates, persists and enqueues a new job. A nil
	// priority takes the job type's default. Returns the job id.
	SubmitJob(ctx context.Context, jobType string, documents []string, options map[string]any, priority *int) (string, error)
	// NextJob leases the highest-priority queued job to the worker, or
	// returns domain.ErrNotFound when nothing is waiting. Polling again
	// while a lease is live returns the same job.
	NextJob(ctx context.Context, workerID, workerType string) (*model.Job, error)
	// UpdateProgress raises the job's counters to the reported values.
	// Counters never move backwards and terminal jobs never change.
	UpdateProgress(ctx context.Context, jobID string, completed, failed int) error
	// CompleteTask records one task outcome; a non-empty errMsg marks the
	// task failed. Resolving the last open task finalizes the job.
	CompleteTask(ctx context.Context, taskID string, result any, errMsg string) error
	// CancelJob stops a pending, queued or running job. Returns false
	// when the job is unknown or already terminal.
	CancelJob(ctx context.Context, jobID string) (bool, error)
	// RetryJob re-queues a failed job with rewound counters. Returns
	// false when the job is unknown, not failed, or out of retries.
	RetryJob(ctx context.Context, jobID string) (bool, error)
	JobStatus(ctx context.Context, jobID string) (*model.JobStatusInfo, error)
	// JobResults returns the aggregate outcome of a completed job;
	// domain.ErrNotCompleted for any other live status.
	JobResults(ctx context.Context, jobID string) (*model.JobResults, error)
	QueueMetrics(ctx context.Context, workerType string) (*model.QueueMetrics, error)
	HealthStatus(ctx context.Context) *model.HealthStatus
	// Close flushes every job and task snapshot to the store.
	Close(ctx context.Context) error
}

type jobUC struct {
	mu          sync.Mutex
	jobs        map[string]*model.Job
	tasks       map[string]*model.Task
	jobTasks    map[string][]string // job id -> task ids in document order
	assignments map[string]*model.WorkerAssignment
	dirty       map[string]struct{} // job ids with snapshot writes owed to the store

	jobsSubmitted  uint64
	jobsCompleted  uint64
	jobsFailed     uint64
	tasksProcessed uint64
	storeConnected bool
	lastSnapshot   model.MetricsSnapshot

	queue   *PriorityQueue
	snaps   snapshots
	archive repository.JobArchive // optional
	cfg     config.QueueConfig
	policy  retry.Policy

	log zerolog.Logger
}

func NewJobUseCase(store repository.Store, archive repository.JobArchive, cfg config.QueueConfig, policy retry.Policy, logger *zerolog.Logger) *jobUC {
	return &jobUC{
		jobs:           make(map[string]*model.Job),
		tasks:          make(map[string]*model.Task),
		jobTasks:       make(map[string][]string),
		assignments:    make(map[string]*model.WorkerAssignment),
		dirty:          make(map[string]struct{}),
		storeConnected: true,
		queue:          NewPriorityQueue(store),
		snaps:          snapshots{store: store},
		archive:        archive,
		cfg:            cfg,
		policy:         policy,
		log:            logger.With().Str("component", "job_uc").Logger(),
	}
}

// Restore rebuilds in-memory state from snapshots after a restart.
// Pending and queued jobs go back on the queue; running jobs keep their
// original deadline and fall to the lease sweep if no worker resumes
// them. Returns the number of jobs restored.
func (u *jobUC) Restore(ctx context.Context) (int, error) {
	jobs, err := u.snaps.loadJobs(ctx)
	if err != nil {
		return 0, err
	}
	tasks, err := u.snaps.loadTasks(ctx)
	if err != nil {
		return 0, err
	}

	u.mu.Lock()
	for _, job := range jobs {
		u.jobs[job.ID] = job
	}
	for _, task := range tasks {
		if _, ok := u.jobs[task.JobID]; !ok {
			// Job snapshot expired first; orphan task snapshots follow soon.
			continue
		}
		u.tasks[task.ID] = task
		u.jobTasks[task.JobID] = append(u.jobTasks[task.JobID], task.ID)
	}
	for _, ids := range u.jobTasks {
		sort.Slice(ids, func(a, b int) bool { return taskIndex(ids[a]) < taskIndex(ids[b]) })
	}
	var requeue []*model.Job
	for _, job := range u.jobs {
		if job.Status == model.JobStatusPending || job.Status == model.JobStatusQueued {
			job.Status = model.JobStatusQueued
			requeue = append(requeue, job.Clone())
		}
	}
	restored := len(u.jobs)
	u.mu.Unlock()

	for _, job := range requeue {
		if err := u.queue.Enqueue(ctx, job); err != nil {
			return restored, fmt.Errorf("requeue job %s: %w", job.ID, err)
		}
	}
	if restored > 0 {
		u.log.Info().Int("jobs", restored).Int("requeued", len(requeue)).Msg("state restored from snapshots")
	}
	return restored, nil
}

func (u *jobUC) SubmitJob(ctx context.Context, jobType string, documents []string, options map[string]any, priority *int) (string, error) {
	defer logging.TraceDuration(&u.log, "JobUC.SubmitJob")()

	jt, known := u.cfg.JobType(jobType)
	if !known {
		u.log.Warn().Str("type", jobType).Msg("unknown job type, using general defaults")
	}
	prio := jt.DefaultPriority
	if priority != nil {
		prio = *priority
	}

	job, err := model.NewJob(ulid.Make().String(), jobType, documents, options, prio, jt.WorkerType, jt.Timeout, u.cfg.MaxRetries)
	if err != nil {
		return "", err
	}
	tasks := make([]*model.Task, 0, len(documents))
	taskIDs := make([]string, 0, len(documents))
	for i, doc := range documents {
		task, err := model.NewTask(job.ID, i, doc, jobType, u.cfg.MaxRetries)
		if err != nil {
			return "", err
		}
		tasks = append(tasks, task)
		taskIDs = append(taskIDs, task.ID)
	}

	// Submission is write-ahead: nothing is admitted that the store has
	// not already seen.
	if err := u.snaps.saveJob(ctx, job); err != nil {
		return "", err
	}
	for _, task := range tasks {
		if err := u.snaps.saveTask(ctx, task); err != nil {
			return "", err
		}
	}

	u.mu.Lock()
	if u.waitingLocked() >= u.cfg.MaxQueueSize {
		u.mu.Unlock()
		_ = u.snaps.delete(ctx, job.ID, taskIDs)
		return "", domain.ErrQueueFull
	}
	job.Status = model.JobStatusQueued
	u.jobs[job.ID] = job
	for _, task := range tasks {
		u.tasks[task.ID] = task
	}
	u.jobTasks[job.ID] = taskIDs
	u.mu.Unlock()

	if err := u.queue.Enqueue(ctx, job); err != nil {
		u.mu.Lock()
		u.unregisterLocked(job.ID)
		u.mu.Unlock()
		_ = u.snaps.delete(ctx, job.ID, taskIDs)
		return "", fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}

	u.mu.Lock()
	u.jobsSubmitted++
	cp := job.Clone()
	u.mu.Unlock()

	u.persistJob(ctx, cp)
	metrics.IncJobSubmitted(job.Type)
	u.log.Info().
		Str("job_id", job.ID).
		Str("type", job.Type).
		Int("priority", prio).
		Int("documents", len(documents)).
		Str("worker_type", jt.WorkerType).
		Msg("job submitted")
	return job.ID, nil
}

func (u *jobUC) NextJob(ctx context.Context, workerID, workerType string) (*model.Job, error) {
	defer logging.TraceDuration(&u.log, "JobUC.NextJob")()

	if workerID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if workerType == "" {
		workerType = config.DefaultWorkerType
	}

	// A worker that polls again without finishing keeps its lease.
	u.mu.Lock()
	if a, ok := u.assignments[workerID]; ok {
		if job, live := u.jobs[a.JobID]; live && job.Status == model.JobStatusRunning {
			cp := job.Clone()
			u.mu.Unlock()
			return cp, nil
		}
		delete(u.assignments, workerID)
	}
	u.mu.Unlock()

	for {
		jobID, err := u.queue.Pop(ctx, workerType)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, domain.ErrNotFound
			}
			return nil, err
		}

		u.mu.Lock()
		job, ok := u.jobs[jobID]
		if !ok || job.Status != model.JobStatusQueued {
			// Stale queue entry from a cancel or an evicted job.
			u.mu.Unlock()
			u.log.Debug().Str("job_id", jobID).Msg("discarded stale queue entry")
			continue
		}
		now := time.Now()
		job.Status = model.JobStatusRunning
		job.StartedAt = &now
		u.assignments[workerID] = &model.WorkerAssignment{WorkerID: workerID, JobID: job.ID, AssignedAt: now}
		for _, tid := range u.jobTasks[job.ID] {
			if task := u.tasks[tid]; task != nil && task.Status == model.TaskStatusPending {
				task.WorkerID = workerID
			}
		}
		cp := job.Clone()
		u.mu.Unlock()

		u.persistJob(ctx, cp)
		u.log.Info().
			Str("job_id", job.ID).
			Str("worker_id", workerID).
			Str("worker_type", workerType).
			Msg("job dispatched")
		return cp, nil
	}
}

func (u *jobUC) UpdateProgress(ctx context.Context, jobID string, completed, failed int) error {
	u.mu.Lock()
	job, ok := u.jobs[jobID]
	if !ok {
		u.mu.Unlock()
		return domain.ErrNotFound
	}
	if job.Status.Terminal() {
		u.mu.Unlock()
		return nil
	}
	if completed > job.CompletedTasks {
		job.CompletedTasks = completed
	}
	if failed > job.FailedTasks {
		job.FailedTasks = failed
	}
	u.recountLocked(job)
	cp := job.Clone()
	u.mu.Unlock()

	u.persistJob(ctx, cp)
	return nil
}

func (u *jobUC) CompleteTask(ctx context.Context, taskID string, result any, errMsg string) error {
	u.mu.Lock()
	task, ok := u.tasks[taskID]
	if !ok {
		u.mu.Unlock()
		return domain.ErrNotFound
	}
	if task.Status.Resolved() {
		// First outcome wins; duplicate reports are dropped.
		u.mu.Unlock()
		return nil
	}
	now := time.Now()
	if errMsg != "" {
		task.Status = model.TaskStatusFailed
		task.ErrorMessage = errMsg
	} else {
		task.Status = model.TaskStatusCompleted
		task.Result = result
	}
	task.CompletedAt = &now
	u.tasksProcessed++

	taskCp := task.Clone()
	var jobCp *model.Job
	finalized := false
	job, live := u.jobs[task.JobID]
	if live && !job.Status.Terminal() {
		u.recountLocked(job)
		if job.CompletedTasks+job.FailedTasks >= job.TotalTasks {
			u.finalizeLocked(job, now)
			finalized = true
		}
		jobCp = job.Clone()
	}
	u.mu.Unlock()

	metrics.IncTaskProcessed(string(taskCp.Status))
	u.persistTask(ctx, taskCp)
	if jobCp != nil {
		u.persistJob(ctx, jobCp)
	}
	if finalized {
		metrics.IncJobFinished(string(jobCp.Status))
		u.log.Info().
			Str("job_id", jobCp.ID).
			Str("status", string(jobCp.Status)).
			Int("completed", jobCp.CompletedTasks).
			Int("failed", jobCp.FailedTasks).
			Msg("job finished")
	}
	return nil
}

// recountLocked merges task outcomes into the job counters. Counters a
// worker pumped higher through UpdateProgress are kept; they only ever
// grow, and their sum never exceeds the task count. Caller holds u.mu.
func (u *jobUC) recountLocked(job *model.Job) {
	completed, failed := 0, 0
	for _, tid := range u.jobTasks[job.ID] {
		task := u.tasks[tid]
		if task == nil {
			continue
		}
		switch task.Status {
		case model.TaskStatusCompleted:
			completed++
		case model.TaskStatusFailed:
			failed++
		}
	}
	if completed > job.CompletedTasks {
		job.CompletedTasks = completed
	}
	if failed > job.FailedTasks {
		job.FailedTasks = failed
	}
	if job.CompletedTasks > job.TotalTasks {
		job.CompletedTasks = job.TotalTasks
	}
	if job.CompletedTasks+job.FailedTasks > job.TotalTasks {
		job.FailedTasks = job.TotalTasks - job.CompletedTasks
	}
	job.RecomputeProgress()
}

// finalizeLocked aggregates task outcomes into the job's terminal state.
// Caller holds u.mu.
func (u *jobUC) finalizeLocked(job *model.Job, now time.Time) {
	res := &model.JobResults{
		Documents: make(map[string]any),
		Errors:    make(map[string]string),
	}
	for _, tid := range u.jobTasks[job.ID] {
		task := u.tasks[tid]
		if task == nil {
			continue
		}
		switch task.Status {
		case model.TaskStatusCompleted:
			res.Successful++
			res.Documents[task.DocumentID] = task.Result
		case model.TaskStatusFailed:
			res.Failed++
			res.Errors[task.DocumentID] = task.ErrorMessage
		}
	}
	job.Results = res
	job.CompletedAt = &now
	if job.FailedTasks > 0 {
		job.Status = model.JobStatusFailed
		job.ErrorMessage = fmt.Sprintf("%d of %d tasks failed", job.FailedTasks, job.TotalTasks)
		u.jobsFailed++
	} else {
		job.Status = model.JobStatusCompleted
		u.jobsCompleted++
	}
	u.releaseAssignmentLocked(job.ID)
}

func (u *jobUC) CancelJob(ctx context.Context, jobID string) (bool, error) {
	u.mu.Lock()
	job, ok := u.jobs[jobID]
	if !ok || job.Status.Terminal() {
		u.mu.Unlock()
		return false, nil
	}
	wasQueued := job.Status == model.JobStatusQueued
	now := time.Now()
	job.Status = model.JobStatusCancelled
	job.CompletedAt = &now
	var taskCps []*model.Task
	for _, tid := range u.jobTasks[jobID] {
		task := u.tasks[tid]
		if task == nil || task.Status.Resolved() {
			continue
		}
		task.Status = model.TaskStatusCancelled
		task.CompletedAt = &now
		taskCps = append(taskCps, task.Clone())
	}
	u.releaseAssignmentLocked(jobID)
	jobCp := job.Clone()
	u.mu.Unlock()

	if wasQueued {
		// Best effort: a concurrent pop may already hold the entry, in
		// which case the dispatcher discards it on arrival.
		if err := u.queue.Remove(ctx, jobCp); err != nil {
			u.log.Warn().Err(err).Str("job_id", jobID).Msg("failed to remove cancelled job from queue")
		}
	}
	u.persistJob(ctx, jobCp)
	for _, cp := range taskCps {
		u.persistTask(ctx, cp)
	}
	metrics.IncJobFinished(string(model.JobStatusCancelled))
	u.log.Info().Str("job_id", jobID).Int("tasks_cancelled", len(taskCps)).Msg("job cancelled")
	return true, nil
}

func (u *jobUC) RetryJob(ctx context.Context, jobID string) (bool, error) {
	u.mu.Lock()
	job, ok := u.jobs[jobID]
	if !ok || !job.Retryable() {
		u.mu.Unlock()
		return false, nil
	}
	job.ResetForRetry()
	job.Status = model.JobStatusQueued
	var taskCps []*model.Task
	for _, tid := range u.jobTasks[jobID] {
		if task := u.tasks[tid]; task != nil {
			task.Reset()
			taskCps = append(taskCps, task.Clone())
		}
	}
	jobCp := job.Clone()
	u.mu.Unlock()

	if err := u.queue.Enqueue(ctx, jobCp); err != nil {
		// Undo: the job stays failed and keeps its retry budget.
		u.mu.Lock()
		if job, ok := u.jobs[jobID]; ok {
			job.Status = model.JobStatusFailed
			job.RetryCount--
		}
		u.mu.Unlock()
		return false, fmt.Errorf("requeue job %s: %w", jobID, err)
	}

	u.persistJob(ctx, jobCp)
	for _, cp := range taskCps {
		u.persistTask(ctx, cp)
	}
	u.log.Info().Str("job_id", jobID).Int("retry", jobCp.RetryCount).Msg("job requeued for retry")
	return true, nil
}

func (u *jobUC) JobStatus(ctx context.Context, jobID string) (*model.JobStatusInfo, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	job, ok := u.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	info := &model.JobStatusInfo{
		JobID:          job.ID,
		Type:           job.Type,
		Status:         job.Status,
		Priority:       job.Priority,
		Progress:       job.Progress,
		TotalTasks:     job.TotalTasks,
		CompletedTasks: job.CompletedTasks,
		FailedTasks:    job.FailedTasks,
		WorkerType:     job.WorkerType,
		Timeout:        job.Timeout,
		RetryCount:     job.RetryCount,
		MaxRetries:     job.MaxRetries,
		CreatedAt:      job.CreatedAt,
		ErrorMessage:   job.ErrorMessage,
	}
	if job.StartedAt != nil {
		t := *job.StartedAt
		info.StartedAt = &t
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		info.CompletedAt = &t
	}
	if job.Results != nil {
		info.Results = &model.ResultsSummary{Successful: job.Results.Successful, Failed: job.Results.Failed}
	}
	return info, nil
}

func (u *jobUC) JobResults(ctx context.Context, jobID string) (*model.JobResults, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	job, ok := u.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if job.Status != model.JobStatusCompleted || job.Results == nil {
		return nil, domain.ErrNotCompleted
	}
	return job.Results.Clone(), nil
}

func (u *jobUC) QueueMetrics(ctx context.Context, workerType string) (*model.QueueMetrics, error) {
	depth, err := u.queue.Depth(ctx, workerType)
	if err != nil {
		return nil, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	qm := &model.QueueMetrics{
		WorkerType: workerType,
		Jobs:       make(map[model.JobStatus]int),
		Tasks:      make(map[model.TaskStatus]int),
		QueueDepth: depth,
	}
	for _, job := range u.jobs {
		if workerType != "" && job.WorkerType != workerType {
			continue
		}
		qm.TotalJobs++
		qm.Jobs[job.Status]++
		for _, tid := range u.jobTasks[job.ID] {
			if task := u.tasks[tid]; task != nil {
				qm.Tasks[task.Status]++
			}
		}
	}
	return qm, nil
}

func (u *jobUC) HealthStatus(ctx context.Context) *model.HealthStatus {
	u.mu.Lock()
	defer u.mu.Unlock()
	status := model.HealthOK
	if !u.storeConnected {
		status = model.HealthDegraded
	}
	return &model.HealthStatus{
		Status:         status,
		StoreConnected: u.storeConnected,
		Totals:         u.snapshotLocked(time.Now()),
	}
}

// RefreshMetrics recomputes the snapshot the sampler and health endpoint
// serve, and pushes the gauges.
func (u *jobUC) RefreshMetrics(ctx context.Context) model.MetricsSnapshot {
	depth, err := u.queue.Depth(ctx, "")
	if err != nil {
		u.log.Warn().Err(err).Msg("queue depth unavailable, keeping last value")
		u.mu.Lock()
		depth = u.lastSnapshot.QueueDepth
		u.mu.Unlock()
	}

	u.mu.Lock()
	snap := u.snapshotLocked(time.Now())
	snap.QueueDepth = depth
	u.lastSnapshot = snap
	u.mu.Unlock()

	metrics.SetQueueDepth(snap.QueueDepth)
	metrics.SetAssignmentsActive(snap.ActiveAssignments)
	metrics.SetWorkersMax(snap.MaxWorkers)
	metrics.SetWorkerUtilization(snap.WorkerUtilization)
	return snap
}

// snapshotLocked builds the counter snapshot. Caller holds u.mu. The
// queue depth is carried over from the last sample; only RefreshMetrics
// touches the store.
func (u *jobUC) snapshotLocked(now time.Time) model.MetricsSnapshot {
	maxWorkers := u.cfg.MaxWorkers
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return model.MetricsSnapshot{
		JobsSubmitted:     u.jobsSubmitted,
		JobsCompleted:     u.jobsCompleted,
		JobsFailed:        u.jobsFailed,
		TasksProcessed:    u.tasksProcessed,
		QueueDepth:        u.lastSnapshot.QueueDepth,
		ActiveAssignments: len(u.assignments),
		MaxWorkers:        u.cfg.MaxWorkers,
		WorkerUtilization: float64(len(u.assignments)) / float64(maxWorkers),
		SampledAt:         now,
	}
}

// SetStoreConnected records the watchdog's view of store health.
func (u *jobUC) SetStoreConnected(connected bool) {
	u.mu.Lock()
	u.storeConnected = connected
	u.mu.Unlock()
	metrics.SetStoreUp(connected)
}

// SweepExpiredLeases times out running jobs whose processing deadline
// passed and drops leases pointing at dead jobs. Returns the number of
// jobs timed out.
func (u *jobUC) SweepExpiredLeases(ctx context.Context) (int, error) {
	now := time.Now()
	u.mu.Lock()
	var expired []*model.Job
	for _, job := range u.jobs {
		if job.Status != model.JobStatusRunning || job.StartedAt == nil {
			continue
		}
		if now.After(job.Deadline()) {
			job.Status = model.JobStatusTimeout
			t := now
			job.CompletedAt = &t
			job.ErrorMessage = fmt.Sprintf("no completion within %s", job.Timeout)
			u.releaseAssignmentLocked(job.ID)
			expired = append(expired, job.Clone())
		}
	}
	// Leases can also outlive their job, e.g. after an eviction.
	for workerID, a := range u.assignments {
		job, ok := u.jobs[a.JobID]
		if !ok || job.Status != model.JobStatusRunning {
			delete(u.assignments, workerID)
		}
	}
	u.mu.Unlock()

	for _, cp := range expired {
		u.persistJob(ctx, cp)
		metrics.IncJobFinished(string(model.JobStatusTimeout))
		u.log.Warn().
			Str("job_id", cp.ID).
			Dur("timeout", cp.Timeout).
			Msg("job timed out waiting for workers")
	}
	metrics.AddJobsTimedOut(len(expired))
	return len(expired), nil
}

// FlushDirty retries snapshot writes that failed earlier. Returns how
// many jobs were flushed clean.
func (u *jobUC) FlushDirty(ctx context.Context) int {
	u.mu.Lock()
	ids := make([]string, 0, len(u.dirty))
	for id := range u.dirty {
		ids = append(ids, id)
	}
	u.mu.Unlock()

	flushed := 0
	for _, id := range ids {
		u.mu.Lock()
		job, ok := u.jobs[id]
		if !ok {
			delete(u.dirty, id)
			u.mu.Unlock()
			continue
		}
		jobCp := job.Clone()
		var taskCps []*model.Task
		for _, tid := range u.jobTasks[id] {
			if task := u.tasks[tid]; task != nil {
				taskCps = append(taskCps, task.Clone())
			}
		}
		u.mu.Unlock()

		if err := u.snaps.saveJob(ctx, jobCp); err != nil {
			continue
		}
		clean := true
		for _, cp := range taskCps {
			if err := u.snaps.saveTask(ctx, cp); err != nil {
				clean = false
				break
			}
		}
		if clean {
			u.mu.Lock()
			delete(u.dirty, id)
			u.mu.Unlock()
			flushed++
		}
	}
	if flushed > 0 {
		u.log.Info().Int("jobs", flushed).Msg("deferred snapshots flushed")
	}
	return flushed
}

// ReapExpired archives and evicts terminal jobs that settled more than
// olderThan ago. Returns the number of jobs evicted.
func (u *jobUC) ReapExpired(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	u.mu.Lock()
	var candidates []string
	for id, job := range u.jobs {
		if job.Status.Terminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			candidates = append(candidates, id)
		}
	}
	u.mu.Unlock()

	evicted := 0
	for _, id := range candidates {
		u.mu.Lock()
		job, ok := u.jobs[id]
		if !ok {
			u.mu.Unlock()
			continue
		}
		jobCp := job.Clone()
		taskIDs := append([]string(nil), u.jobTasks[id]...)
		taskCps := make([]*model.Task, 0, len(taskIDs))
		for _, tid := range taskIDs {
			if task := u.tasks[tid]; task != nil {
				taskCps = append(taskCps, task.Clone())
			}
		}
		u.mu.Unlock()

		if u.archive != nil {
			err := retry.Do(ctx, u.policy, func() error {
				return u.archive.ArchiveJob(ctx, repository.NoTX, jobCp, taskCps)
			})
			metrics.IncArchiveWrite(err == nil)
			if err != nil {
				// Evict anyway; the snapshot TTL would drop it regardless.
				u.log.Error().Err(err).Str("job_id", id).Msg("archive write failed, evicting without archive")
			}
		}
		if err := u.snaps.delete(ctx, id, taskIDs); err != nil {
			u.log.Error().Err(err).Str("job_id", id).Msg("snapshot eviction failed, will retry next sweep")
			continue
		}

		u.mu.Lock()
		u.unregisterLocked(id)
		u.mu.Unlock()
		evicted++
	}
	if evicted > 0 {
		metrics.AddJobsReaped(evicted)
		u.log.Info().Int("jobs", evicted).Msg("expired jobs evicted")
	}
	return evicted, nil
}

func (u *jobUC) Close(ctx context.Context) error {
	u.mu.Lock()
	jobCps := make([]*model.Job, 0, len(u.jobs))
	for _, job := range u.jobs {
		jobCps = append(jobCps, job.Clone())
	}
	taskCps := make([]*model.Task, 0, len(u.tasks))
	for _, task := range u.tasks {
		taskCps = append(taskCps, task.Clone())
	}
	u.mu.Unlock()

	var firstErr error
	for _, cp := range jobCps {
		if err := u.snaps.saveJob(ctx, cp); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, cp := range taskCps {
		if err := u.snaps.saveTask(ctx, cp); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	u.log.Info().Int("jobs", len(jobCps)).Int("tasks", len(taskCps)).Msg("state flushed on shutdown")
	return firstErr
}

// ---- internals ----

// waitingLocked counts jobs occupying queue capacity. Caller holds u.mu.
func (u *jobUC) waitingLocked() int {
	n := 0
	for _, job := range u.jobs {
		if job.Status == model.JobStatusPending || job.Status == model.JobStatusQueued {
			n++
		}
	}
	return n
}

// unregisterLocked drops a job and its tasks from memory. Caller holds u.mu.
func (u *jobUC) unregisterLocked(jobID string) {
	for _, tid := range u.jobTasks[jobID] {
		delete(u.tasks, tid)
	}
	delete(u.jobTasks, jobID)
	delete(u.jobs, jobID)
	delete(u.dirty, jobID)
	u.releaseAssignmentLocked(jobID)
}

// releaseAssignmentLocked frees whichever worker holds this job. Caller
// holds u.mu.
func (u *jobUC) releaseAssignmentLocked(jobID string) {
	for workerID, a := range u.assignments {
		if a.JobID == jobID {
			delete(u.assignments, workerID)
			return
		}
	}
}

func (u *jobUC) persistJob(ctx context.Context, job *model.Job) {
	if err := u.snaps.saveJob(ctx, job); err != nil {
		metrics.IncPersistFailure()
		u.markDirty(job.ID)
		u.log.Error().Err(err).Str("job_id", job.ID).Msg("job snapshot write failed, deferred to flush")
	}
}

func (u *jobUC) persistTask(ctx context.Context, task *model.Task) {
	if err := u.snaps.saveTask(ctx, task); err != nil {
		metrics.IncPersistFailure()
		u.markDirty(task.JobID)
		u.log.Error().Err(err).Str("task_id", task.ID).Msg("task snapshot write failed, deferred to flush")
	}
}

func (u *jobUC) markDirty(jobID string) {
	u.mu.Lock()
	u.dirty[jobID] = struct{}{}
	u.mu.Unlock()
}

func taskIndex(taskID string) int {
	if i := strings.LastIndex(taskID, "_"); i >= 0 {
		if n, err := strconv.Atoi(taskID[i+1:]); err == nil {
			return n
		}
	}
	return 0
}
