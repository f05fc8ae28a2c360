//go:build !integration

package web

import (
	"context"
	"sync"

	"docqueue/internal/domain"
	"docqueue/internal/domain/model"
	"docqueue/internal/usecase"
)

// --- Mock use case ---

// mockJobUC serves canned data to the handlers. Error fields simulate
// scheduler failures per method.
type mockJobUC struct {
	usecase.JobUseCase // Embed interface for forward compatibility
	mu                 sync.Mutex

	jobs    map[string]*model.JobStatusInfo
	results map[string]*model.JobResults
	next    *model.Job
	metrics *model.QueueMetrics
	health  *model.HealthStatus

	SubmitID      string
	SubmitError   error
	NextError     error
	ProgressError error
	CompleteError error
	CancelOK      bool
	CancelError   error
	RetryOK       bool
	RetryError    error
	MetricsError  error

	// Captured arguments for assertions.
	LastJobType     string
	LastDocuments   []string
	LastPriority    *int
	LastWorkerID    string
	LastWorkerType  string
	LastTaskID      string
	LastResult      any
	LastErrMsg      string
	LastProgress    [2]int
	LastMetricsType string
}

func (m *mockJobUC) SubmitJob(ctx context.Context, jobType string, documents []string, options map[string]any, priority *int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastJobType = jobType
	m.LastDocuments = documents
	m.LastPriority = priority
	if m.SubmitError != nil {
		return "", m.SubmitError
	}
	return m.SubmitID, nil
}

func (m *mockJobUC) NextJob(ctx context.Context, workerID, workerType string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastWorkerID = workerID
	m.LastWorkerType = workerType
	if m.NextError != nil {
		return nil, m.NextError
	}
	if m.next == nil {
		return nil, domain.ErrNotFound
	}
	return m.next, nil
}

func (m *mockJobUC) UpdateProgress(ctx context.Context, jobID string, completed, failed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ProgressError != nil {
		return m.ProgressError
	}
	if _, ok := m.jobs[jobID]; !ok {
		return domain.ErrNotFound
	}
	m.LastProgress = [2]int{completed, failed}
	return nil
}

func (m *mockJobUC) CompleteTask(ctx context.Context, taskID string, result any, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CompleteError != nil {
		return m.CompleteError
	}
	m.LastTaskID = taskID
	m.LastResult = result
	m.LastErrMsg = errMsg
	return nil
}

func (m *mockJobUC) CancelJob(ctx context.Context, jobID string) (bool, error) {
	if m.CancelError != nil {
		return false, m.CancelError
	}
	return m.CancelOK, nil
}

func (m *mockJobUC) RetryJob(ctx context.Context, jobID string) (bool, error) {
	if m.RetryError != nil {
		return false, m.RetryError
	}
	return m.RetryOK, nil
}

func (m *mockJobUC) JobStatus(ctx context.Context, jobID string) (*model.JobStatusInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.jobs[jobID]; ok {
		return info, nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockJobUC) JobResults(ctx context.Context, jobID string) (*model.JobResults, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[jobID]; !ok {
		return nil, domain.ErrNotFound
	}
	if res, ok := m.results[jobID]; ok {
		return res, nil
	}
	return nil, domain.ErrNotCompleted
}

func (m *mockJobUC) QueueMetrics(ctx context.Context, workerType string) (*model.QueueMetrics, error) {
	m.mu.Lock()
	m.LastMetricsType = workerType
	m.mu.Unlock()
	if m.MetricsError != nil {
		return nil, m.MetricsError
	}
	if m.metrics != nil {
		return m.metrics, nil
	}
	return &model.QueueMetrics{
		WorkerType: workerType,
		Jobs:       map[model.JobStatus]int{},
		Tasks:      map[model.TaskStatus]int{},
	}, nil
}

func (m *mockJobUC) HealthStatus(ctx context.Context) *model.HealthStatus {
	if m.health != nil {
		return m.health
	}
	return &model.HealthStatus{Status: model.HealthOK, StoreConnected: true}
}
