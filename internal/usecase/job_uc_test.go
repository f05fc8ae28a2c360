//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"docqueue/internal/config"
	"docqueue/internal/domain"
	"docqueue/internal/domain/model"
	"docqueue/internal/domain/ports/repository"
	"docqueue/internal/retry"
	"docqueue/internal/usecase"
)

func testQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		MaxWorkers:   4,
		MaxQueueSize: 100,
		MaxRetries:   3,
		JobTypes: map[string]config.JobTypeConfig{
			"ocr":          {WorkerType: "ocr", Timeout: time.Hour, DefaultPriority: 5},
			"nlp_analysis": {WorkerType: "nlp", Timeout: time.Hour, DefaultPriority: 3},
			"fast":         {WorkerType: "ocr", Timeout: 30 * time.Millisecond, DefaultPriority: 0},
		},
	}
}

func fastRetry() retry.Policy {
	return retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, Multiplier: 2.0, MaxDelay: 2 * time.Millisecond}
}

func intPtr(n int) *int { return &n }

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestSubmitJob(t *testing.T) {
	ctx := context.Background()

	t.Run("should persist, register and enqueue a new job", func(t *testing.T) {
		// Arrange
		store := NewMockStore()
		uc := usecase.NewJobUseCase(store, nil, testQueueConfig(), fastRetry(), newTestLogger())

		// Act
		id, err := uc.SubmitJob(ctx, "ocr", []string{"doc1", "doc2", "doc3"}, map[string]any{"lang": "en"}, nil)

		// Assert
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if id == "" {
			t.Fatal("expected a job id")
		}
		info, err := uc.JobStatus(ctx, id)
		if err != nil {
			t.Fatalf("expected job to be queryable, but got: %v", err)
		}
		if info.Status != model.JobStatusQueued {
			t.Errorf("expected status %q, but got %q", model.JobStatusQueued, info.Status)
		}
		if info.TotalTasks != 3 || info.CompletedTasks != 0 || info.FailedTasks != 0 {
			t.Errorf("unexpected counters: %+v", info)
		}
		if info.Priority != 5 {
			t.Errorf("expected the ocr default priority 5, but got %d", info.Priority)
		}
		if !store.HasKey("job:" + id) {
			t.Error("expected a job snapshot in the store")
		}
		for i := 0; i < 3; i++ {
			if !store.HasKey(fmt.Sprintf("task:%s_task_%d", id, i)) {
				t.Errorf("expected a snapshot for task %d", i)
			}
		}
		if n := store.QueueLen("queue:ocr:normal"); n != 1 {
			t.Errorf("expected 1 queued entry, but got %d", n)
		}
	})

	t.Run("should route unknown job types to the general pool", func(t *testing.T) {
		store := NewMockStore()
		uc := usecase.NewJobUseCase(store, nil, testQueueConfig(), fastRetry(), newTestLogger())

		id, err := uc.SubmitJob(ctx, "holographic_scan", []string{"doc1"}, nil, nil)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		info, _ := uc.JobStatus(ctx, id)
		if info.WorkerType != config.DefaultWorkerType {
			t.Errorf("expected worker type %q, but got %q", config.DefaultWorkerType, info.WorkerType)
		}

		// A worker polling without a type serves the general pool.
		job, err := uc.NextJob(ctx, "worker-1", "")
		if err != nil {
			t.Fatalf("expected the job to be dispatchable, but got: %v", err)
		}
		if job.ID != id {
			t.Errorf("expected job %s, but got %s", id, job.ID)
		}
	})

	t.Run("should reject a job without documents", func(t *testing.T) {
		store := NewMockStore()
		uc := usecase.NewJobUseCase(store, nil, testQueueConfig(), fastRetry(), newTestLogger())

		_, err := uc.SubmitJob(ctx, "ocr", nil, nil, nil)
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, but got: %v", err)
		}
	})

	t.Run("should reject submissions when the queue is full", func(t *testing.T) {
		store := NewMockStore()
		cfg := testQueueConfig()
		cfg.MaxQueueSize = 1
		uc := usecase.NewJobUseCase(store, nil, cfg, fastRetry(), newTestLogger())

		first, err := uc.SubmitJob(ctx, "ocr", []string{"doc1"}, nil, nil)
		if err != nil {
			t.Fatalf("expected the first submission to pass, but got: %v", err)
		}
		_, err = uc.SubmitJob(ctx, "ocr", []string{"doc2"}, nil, nil)
		if !errors.Is(err, domain.ErrQueueFull) {
			t.Fatalf("expected ErrQueueFull, but got: %v", err)
		}

		// Dispatching frees the slot: running jobs no longer wait.
		if _, err := uc.NextJob(ctx, "worker-1", "ocr"); err != nil {
			t.Fatalf("expected dispatch to succeed, but got: %v", err)
		}
		if _, err := uc.SubmitJob(ctx, "ocr", []string{"doc2"}, nil, nil); err != nil {
			t.Errorf("expected capacity after dispatch, but got: %v", err)
		}
		if _, err := uc.JobStatus(ctx, first); err != nil {
			t.Errorf("expected the first job to be unaffected, but got: %v", err)
		}
	})

	t.Run("should not admit a job the store cannot persist", func(t *testing.T) {
		store := NewMockStore()
		store.SetExFunc = func(ctx context.Context, key, value string, ttl time.Duration) error {
			return errors.New("store down")
		}
		uc := usecase.NewJobUseCase(store, nil, testQueueConfig(), fastRetry(), newTestLogger())

		_, err := uc.SubmitJob(ctx, "ocr", []string{"doc1"}, nil, nil)
		if err == nil {
			t.Fatal("expected an error when the write-ahead persist fails, but got nil")
		}
		qm, _ := uc.QueueMetrics(ctx, "")
		if qm.TotalJobs != 0 {
			t.Errorf("expected no registered jobs, but got %d", qm.TotalJobs)
		}
	})
}

func TestNextJob(t *testing.T) {
	ctx := context.Background()

	t.Run("should dispatch tiers in order and priority inside a tier", func(t *testing.T) {
		// Arrange
		store := NewMockStore()
		uc := usecase.NewJobUseCase(store, nil, testQueueConfig(), fastRetry(), newTestLogger())

		low, _ := uc.SubmitJob(ctx, "ocr", []string{"d"}, nil, intPtr(-15))
		normal, _ := uc.SubmitJob(ctx, "ocr", []string{"d"}, nil, intPtr(5))
		urgent, _ := uc.SubmitJob(ctx, "ocr", []string{"d"}, nil, intPtr(15))
		boosted, _ := uc.SubmitJob(ctx, "ocr", []string{"d"}, nil, intPtr(7))

		// Act + Assert
		want := []string{urgent, boosted, normal, low}
		for i, expected := range want {
			job, err := uc.NextJob(ctx, fmt.Sprintf("worker-%d", i), "ocr")
			if err != nil {
				t.Fatalf("poll %d failed: %v", i, err)
			}
			if job.ID != expected {
				t.Fatalf("poll %d: expected job %s, but got %s", i, expected, job.ID)
			}
			if job.Status != model.JobStatusRunning || job.StartedAt == nil {
				t.Errorf("poll %d: expected a running job with a start time", i)
			}
		}
	})

	t.Run("should return the same job while the lease is live", func(t *testing.T) {
		store := NewMockStore()
		uc := usecase.NewJobUseCase(store, nil, testQueueConfig(), fastRetry(), newTestLogger())
		id, _ := uc.SubmitJob(ctx, "ocr", []string{"doc1"}, nil, nil)

		first, err := uc.NextJob(ctx, "worker-1", "ocr")
		if err != nil {
			t.Fatalf("expected a job, but got: %v", err)
		}
		again, err := uc.NextJob(ctx, "worker-1", "ocr")
		if err != nil {
			t.Fatalf("expected the lease to be returned, but got: %v", err)
		}
		if first.ID != id || again.ID != id {
			t.Errorf("expected both polls to return %s, but got %s and %s", id, first.ID, again.ID)
		}
	})

	t.Run("should report an empty queue as not found", func(t *testing.T) {
		store := NewMockStore()
		uc := usecase.NewJobUseCase(store, nil, testQueueConfig(), fastRetry(), newTestLogger())

		if _, err := uc.NextJob(ctx, "worker-1", "ocr"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, but got: %v", err)
		}
	})

	t.Run("should not hand ocr work to nlp workers", func(t *testing.T) {
		store := NewMockStore()
		uc := usecase.NewJobUseCase(store, nil, testQueueConfig(), fastRetry(), newTestLogger())
		_, _ = uc.SubmitJob(ctx, "ocr", []string{"doc1"}, nil, nil)

		if _, err := uc.NextJob(ctx, "worker-1", "nlp"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, but got: %v", err)
		}
	})

	t.Run("should discard queue entries of cancelled jobs", func(t *testing.T) {
		// Arrange: removal from the queue fails, leaving a stale entry.
		store := NewMockStore()
		store.ZRemFunc = func(ctx context.Context, key, member string) error {
			return errors.New("transient store error")
		}
		uc := usecase.NewJobUseCase(store, nil, testQueueConfig(), fastRetry(), newTestLogger())
		id, _ := uc.SubmitJob(ctx, "ocr", []string{"doc1"}, nil, nil)
		if ok, _ := uc.CancelJob(ctx, id); !ok {
			t.Fatal("expected the cancel to succeed")
		}

		// Act: the dispatcher pops the stale entry and skips it.
		_, err := uc.NextJob(ctx, "worker-1", "ocr")

		// Assert
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound after discarding the stale entry, but got: %v", err)
		}
	})

	t.Run("should reject a poll without a worker id", func(t *testing.T) {
		store := NewMockStore()
		uc := usecase.NewJobUseCase(store, nil, testQueueConfig(), fastRetry(), newTestLogger())

		if _, err := uc.NextJob(ctx, "", "ocr"); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, but got: %v", err)
		}
	})
}

func TestUpdateProgress(t *testing.T) {
	ctx := context.Background()

	t.Run("should raise counters monotonically", func(t *testing.T) {
		store := NewMockStore()
		uc := usecase.NewJobUseCase(store, nil, testQueueConfig(), fastRetry(), newTestLogger())
		id, _ := uc.SubmitJob(ctx, "ocr", []string{"d1", "d2", "d3", "d4"}, nil, nil)
		_, _ = uc.NextJob(ctx, "worker-1", "ocr")

		if err := uc.UpdateProgress(ctx, id, 2, 1); err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		info, _ := uc.JobStatus(ctx, id)
		if info.CompletedTasks != 2 || info.FailedTasks != 1 {
			t.Errorf("expected counters 2/1, but got %d/%d", info.CompletedTasks, info.FailedTasks)
		}
		if !almostEqual(info.Progress, 0.75) {
			t.Errorf("expected progress 0.75, but got %f", info.Progress)
		}

		// Lower reports never rewind the counters.
		_ = uc.UpdateProgress(ctx, id, 1, 0)
		info, _ = uc.JobStatus(ctx, id)
		if info.CompletedTasks != 2 || info.FailedTasks != 1 {
			t.Errorf("expected counters to hold at 2/1, but got %d/%d", info.CompletedTasks, info.FailedTasks)
		}
	})

	t.Run("should clamp counters to the task count", func(t *testing.T) {
		store := NewMockStore()
		uc := usecase.NewJobUseCase(store, nil, testQueueConfig(), fastRetry(), newTestLogger())
		id, _ := uc.SubmitJob(ctx, "ocr", []string{"d1", "d2"}, nil, nil)

		_ = uc.UpdateProgress(ctx, id, 5, 5)
		info, _ := uc.JobStatus(ctx, id)
		if info.CompletedTasks+info.FailedTasks > info.TotalTasks {
			t.Errorf("expected counters within %d, but got %d/%d", info.TotalTasks, info.CompletedTasks, info.FailedTasks)
		}
		if !almostEqual(info.Progress, 1.0) {
			t.Errorf("expected progress 1.0, but got %f", info.Progress)
		}
		if info.Status.Terminal() {
			t.Error("progress reports alone must not finalize a job")
		}
	})

	t.Run("should not touch a terminal job", func(t *testing.T) {
		store := NewMockStore()
		uc := usecase.NewJobUseCase(store, nil, testQueueConfig(), fastRetry(), newTestLogger())
		id, _ := uc.SubmitJob(ctx, "ocr", []string{"d1"}, nil, nil)
		_, _ = uc.CancelJob(ctx, id)

		if err := uc.UpdateProgress(ctx, id, 1, 0); err != nil {
			t.Fatalf("expected a silent no-op, but got: %v", err)
		}
		info, _ := uc.JobStatus(ctx, id)
		if info.CompletedTasks != 0 {
			t.Errorf("expected frozen counters, but got %d", info.CompletedTasks)
		}
	})

	t.Run("should report unknown jobs", func(t *testing.T) {
		store := NewMockStore()
		uc := usecase.NewJobUseCase(store, nil, testQueueConfig(), fastRetry(), newTestLogger())

		if err := uc.UpdateProgress(ctx, "missing", 1, 0); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, but got: %v", err)
		}
	})
}

func TestCompleteTask(t *testing.T) {
	ctx := context.Background()

	t.Run("should aggregate mixed outcomes into a failed job", func(t *testing.T) {
		// Arrange
		store := NewMockStore()
		uc := usecase.NewJobUseCase(store, nil, testQueueConfig(), fastRetry(), newTestLogger())
		id, _ := uc.SubmitJob(ctx, "ocr", []string{"doc1", "doc2", "doc3"}, nil, nil)
		_, _ = uc.NextJob(ctx, "worker-1", "ocr")

		// Act
		if err := uc.CompleteTask(ctx, id+"_task_0", map[string]any{"text": "hello"}, ""); err != nil {
			t.Fatalf("task 0 failed: %v", err)
		}
		if err := uc.CompleteTask(ctx, id+"_task_1", "ok", ""); err != nil {
			t.Fatalf("task 1 failed: %v", err)
		}
		mid, _ := uc.JobStatus(ctx, id)
		if err := uc.CompleteTask(ctx, id+"_task_2", nil, "corrupted page"); err != nil {
			t.Fatalf("task 2 failed: %v", err)
		}

		// Assert
		if !almostEqual(mid.Progress, 2.0/3.0) {
			t.Errorf("expected mid progress 2/3, but got %f", mid.Progress)
		}
		info, _ := uc.JobStatus(ctx, id)
		if info.Status != model.JobStatusFailed {
			t.Errorf("expected status %q, but got %q", model.JobStatusFailed, info.Status)
		}
		if info.CompletedTasks != 2 || info.FailedTasks != 1 {
			t.Errorf("expected counters 2/1, but got %d/%d", info.CompletedTasks, info.FailedTasks)
		}
		if !almostEqual(info.Progress, 1.0) {
			t.Errorf("expected progress 1.0, but got %f", info.Progress)
		}
		if info.CompletedAt == nil {
			t.Error("expected a completion timestamp")
		}
		if !strings.Contains(info.ErrorMessage, "1 of 3") {
			t.Errorf("unexpected error message: %q", info.ErrorMessage)
		}
		if info.Results == nil || info.Results.Successful != 2 || info.Results.Failed != 1 {
			t.Errorf("unexpected results summary: %+v", info.Results)
		}
		if _, err := uc.JobResults(ctx, id); !errors.Is(err, domain.ErrNotCompleted) {
			t.Errorf("expected ErrNotCompleted for a failed job, but got: %v", err)
		}

		// The worker's lease died with the job.
		snap := uc.RefreshMetrics(ctx)
		if snap.ActiveAssignments != 0 {
			t.Errorf("expected no live assignments, but got %d", snap.ActiveAssignments)
		}
	})

	t.Run("should complete a job and expose per-document results", func(t *testing.T) {
		store := NewMockStore()
		uc := usecase.NewJobUseCase(store, nil, testQueueConfig(), fastRetry(), newTestLogger())
		id, _ := uc.SubmitJob(ctx, "ocr", []string{"doc1", "doc2"}, nil, nil)
		_, _ = uc.NextJob(ctx, "worker-1", "ocr")

		_ = uc.CompleteTask(ctx, id+"_task_0", "first", "")
		_ = uc.CompleteTask(ctx, id+"_task_1", "second", "")

		info, _ := uc.JobStatus(ctx, id)
		if info.Status != model.JobStatusCompleted {
			t.Fatalf("expected status %q, but got %q", model.JobStatusCompleted, info.Status)
		}
		res, err := uc.JobResults(ctx, id)
		if err != nil {
			t.Fatalf("expected results, but got: %v", err)
		}
		if res.Successful != 2 || res.Failed != 0 {
			t.Errorf("unexpected counts: %+v", res)
		}
		if res.Documents["doc1"] != "first" || res.Documents["doc2"] != "second" {
			t.Errorf("unexpected documents payload: %+v", res.Documents)
		}
		if len(res.Errors) != 0 {
			t.Errorf("expected no errors, but got %+v", res.Errors)
		}
	})

	t.Run("should drop duplicate reports", func(t *testing.T) {
		store := NewMockStore()
		uc := usecase.NewJobUseCase(store, nil, testQueueConfig(), fastRetry(), newTestLogger())
		id, _ := uc.SubmitJob(ctx, "ocr", []string{"doc1", "doc2"}, nil, nil)
		_, _ = uc.NextJob(ctx, "worker-1", "ocr")

		_ = uc.CompleteTask(ctx, id+"_task_0", "v1", "")
		if err := uc.CompleteTask(ctx, id+"_task_0", nil, "changed my mind"); err != nil {
			t.Fatalf("expected duplicates to be dropped silently, but got: %v", err)
		}

		info, _ := uc.JobStatus(ctx, id)
		if info.CompletedTasks != 1 || info.FailedTasks != 0 {
			t.Errorf("expected counters 1/0 after the duplicate, but got %d/%d", info.CompletedTasks, info.FailedTasks)
		}
	})

	t.Run("should report unknown tasks", func(t *testing.T) {
		store := NewMockStore()
		uc := usecase.NewJobUseCase(store, nil, testQueueConfig(), fastRetry(), newTestLogger())

		if err := uc.CompleteTask(ctx, "ghost_task_0", nil, ""); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, but got: %v", err)
		}
	})
}

func TestCancelJob(t *testing.T) {
	ctx := context.Background()

	t.Run("should cancel a queued job and its tasks", func(t *testing.T) {
		store := NewMockStore()
		uc := usecase.NewJobUseCase(store, nil, testQueueConfig(), fastRetry(), newTestLogger())
		id, _ := uc.SubmitJob(ctx, "ocr", []string{"doc1", "doc2"}, nil, nil)

		ok, err := uc.CancelJob(ctx, id)
		if err != nil || !ok {
			t.Fatalf("expected the cancel to succeed, but got ok=%v err=%v", ok, err)
		}
		info, _ := uc.JobStatus(ctx, id)
		if info.Status != model.JobStatusCancelled {
			t.Errorf("expected status %q, but got %q", model.JobStatusCancelled, info.Status)
		}
		if info.CompletedAt == nil {
			t.Error("expected a completion timestamp")
		}
		if n := store.QueueLen("queue:ocr:normal"); n != 0 {
			t.Errorf("expected the queue entry to be removed, but %d remain", n)
		}
		qm, _ := uc.QueueMetrics(ctx, "ocr")
		if qm.Tasks[model.TaskStatusCancelled] != 2 {
			t.Errorf("expected 2 cancelled tasks, but got %+v", qm.Tasks)
		}
		if _, err := uc.NextJob(ctx, "worker-1", "ocr"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected nothing dispatchable, but got: %v", err)
		}
	})

	t.Run("should cancel a running job and drop late reports", func(t *testing.T) {
		store := NewMockStore()
		uc := usecase.NewJobUseCase(store, nil, testQueueConfig(), fastRetry(), newTestLogger())
		id, _ := uc.SubmitJob(ctx, "ocr", []string{"doc1"}, nil, nil)
		_, _ = uc.NextJob(ctx, "worker-1", "ocr")

		ok, _ := uc.CancelJob(ctx, id)
		if !ok {
			t.Fatal("expected the cancel to succeed")
		}
		snap := uc.RefreshMetrics(ctx)
		if snap.ActiveAssignments != 0 {
			t.Errorf("expected the lease to be released, but got %d", snap.ActiveAssignments)
		}

		// The worker finishes anyway; its report must not resurrect anything.
		if err := uc.CompleteTask(ctx, id+"_task_0", "late", ""); err != nil {
			t.Fatalf("expected the late report to be absorbed, but got: %v", err)
		}
		info, _ := uc.JobStatus(ctx, id)
		if info.Status != model.JobStatusCancelled || info.CompletedTasks != 0 {
			t.Errorf("expected the job to stay cancelled and frozen, but got %+v", info)
		}
		qm, _ := uc.QueueMetrics(ctx, "ocr")
		if qm.Tasks[model.TaskStatusCancelled] != 1 {
			t.Errorf("expected the task to stay cancelled, but got %+v", qm.Tasks)
		}
	})

	t.Run("should refuse terminal and unknown jobs", func(t *testing.T) {
		store := NewMockStore()
		uc := usecase.NewJobUseCase(store, nil, testQueueConfig(), fastRetry(), newTestLogger())
		id, _ := uc.SubmitJob(ctx, "ocr", []string{"doc1"}, nil, nil)
		_, _ = uc.CancelJob(ctx, id)

		if ok, _ := uc.CancelJob(ctx, id); ok {
			t.Error("expected a second cancel to report false")
		}
		if ok, _ := uc.CancelJob(ctx, "missing"); ok {
			t.Error("expected an unknown job to report false")
		}
	})
}

func TestRetryJob(t *testing.T) {
	ctx := context.Background()

	failJob := func(t *testing.T, uc usecase.JobUseCase, id string) {
		t.Helper()
		if _, err := uc.NextJob(ctx, "worker-1", "ocr"); err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		if err := uc.CompleteTask(ctx, id+"_task_0", "ok", ""); err != nil {
			t.Fatalf("task 0 failed: %v", err)
		}
		if err := uc.CompleteTask(ctx, id+"_task_1", nil, "engine crash"); err != nil {
			t.Fatalf("task 1 failed: %v", err)
		}
	}

	t.Run("should rewind and requeue a failed job", func(t *testing.T) {
		// Arrange
		store := NewMockStore()
		uc := usecase.NewJobUseCase(store, nil, testQueueConfig(), fastRetry(), newTestLogger())
		id, _ := uc.SubmitJob(ctx, "ocr", []string{"doc1", "doc2"}, nil, nil)
		failJob(t, uc, id)

		// Act
		ok, err := uc.RetryJob(ctx, id)

		// Assert
		if err != nil || !ok {
			t.Fatalf("expected the retry to succeed, but got ok=%v err=%v", ok, err)
		}
		info, _ := uc.JobStatus(ctx, id)
		if info.Status != model.JobStatusQueued {
			t.Errorf("expected status %q, but got %q", model.JobStatusQueued, info.Status)
		}
		if info.RetryCount != 1 {
			t.Errorf("expected retry count 1, but got %d", info.RetryCount)
		}
		if info.CompletedTasks != 0 || info.FailedTasks != 0 || !almostEqual(info.Progress, 0) {
			t.Errorf("expected rewound counters, but got %+v", info)
		}
		if info.ErrorMessage != "" || info.Results != nil {
			t.Errorf("expected the previous outcome to be cleared, but got %+v", info)
		}
		qm, _ := uc.QueueMetrics(ctx, "ocr")
		if qm.Tasks[model.TaskStatusPending] != 2 {
			t.Errorf("expected both tasks pending again, but got %+v", qm.Tasks)
		}

		// The second attempt can succeed end to end.
		if _, err := uc.NextJob(ctx, "worker-2", "ocr"); err != nil {
			t.Fatalf("redispatch failed: %v", err)
		}
		_ = uc.CompleteTask(ctx, id+"_task_0", "ok", "")
		_ = uc.CompleteTask(ctx, id+"_task_1", "ok", "")
		res, err := uc.JobResults(ctx, id)
		if err != nil {
			t.Fatalf("expected results after the retry, but got: %v", err)
		}
		if res.Successful != 2 {
			t.Errorf("expected 2 successful documents, but got %d", res.Successful)
		}
	})

	t.Run("should stop retrying once the budget is spent", func(t *testing.T) {
		store := NewMockStore()
		cfg := testQueueConfig()
		cfg.MaxRetries = 1
		uc := usecase.NewJobUseCase(store, nil, cfg, fastRetry(), newTestLogger())
		id, _ := uc.SubmitJob(ctx, "ocr", []string{"doc1", "doc2"}, nil, nil)
		failJob(t, uc, id)

		if ok, _ := uc.RetryJob(ctx, id); !ok {
			t.Fatal("expected the first retry to pass")
		}
		failJob(t, uc, id)
		if ok, _ := uc.RetryJob(ctx, id); ok {
			t.Error("expected the retry budget to be exhausted")
		}
	})

	t.Run("should refuse jobs that are not failed", func(t *testing.T) {
		store := NewMockStore()
		uc := usecase.NewJobUseCase(store, nil, testQueueConfig(), fastRetry(), newTestLogger())
		id, _ := uc.SubmitJob(ctx, "ocr", []string{"doc1"}, nil, nil)

		if ok, _ := uc.RetryJob(ctx, id); ok {
			t.Error("expected a queued job to be non-retryable")
		}
		if ok, _ := uc.RetryJob(ctx, "missing"); ok {
			t.Error("expected an unknown job to be non-retryable")
		}
	})
}

func TestSweepExpiredLeases(t *testing.T) {
	ctx := context.Background()

	t.Run("should time out a job past its processing deadline", func(t *testing.T) {
		store := NewMockStore()
		uc := usecase.NewJobUseCase(store, nil, testQueueConfig(), fastRetry(), newTestLogger())
		id, _ := uc.SubmitJob(ctx, "fast", []string{"doc1"}, nil, nil)
		_, _ = uc.NextJob(ctx, "worker-1", "ocr")

		time.Sleep(50 * time.Millisecond)
		n, err := uc.SweepExpiredLeases(ctx)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if n != 1 {
			t.Fatalf("expected 1 timed out job, but got %d", n)
		}
		info, _ := uc.JobStatus(ctx, id)
		if info.Status != model.JobStatusTimeout {
			t.Errorf("expected status %q, but got %q", model.JobStatusTimeout, info.Status)
		}
		if info.CompletedAt == nil || info.ErrorMessage == "" {
			t.Errorf("expected a settled job, but got %+v", info)
		}
		snap := uc.RefreshMetrics(ctx)
		if snap.ActiveAssignments != 0 {
			t.Errorf("expected the lease to be dropped, but got %d", snap.ActiveAssignments)
		}

		// A late report still lands on the task record, never the job.
		if err := uc.CompleteTask(ctx, id+"_task_0", "slow but done", ""); err != nil {
			t.Fatalf("expected the late report to be absorbed, but got: %v", err)
		}
		info, _ = uc.JobStatus(ctx, id)
		if info.Status != model.JobStatusTimeout || info.CompletedTasks != 0 {
			t.Errorf("expected the job to stay frozen, but got %+v", info)
		}
		qm, _ := uc.QueueMetrics(ctx, "ocr")
		if qm.Tasks[model.TaskStatusCompleted] != 1 {
			t.Errorf("expected the late outcome on the task, but got %+v", qm.Tasks)
		}
	})

	t.Run("should leave jobs inside their deadline alone", func(t *testing.T) {
		store := NewMockStore()
		uc := usecase.NewJobUseCase(store, nil, testQueueConfig(), fastRetry(), newTestLogger())
		_, _ = uc.SubmitJob(ctx, "ocr", []string{"doc1"}, nil, nil)
		_, _ = uc.NextJob(ctx, "worker-1", "ocr")

		n, err := uc.SweepExpiredLeases(ctx)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if n != 0 {
			t.Errorf("expected no timeouts, but got %d", n)
		}
	})
}

func TestReapExpired(t *testing.T) {
	ctx := context.Background()

	t.Run("should archive and evict settled jobs", func(t *testing.T) {
		// Arrange: one finished job, one still queued.
		store := NewMockStore()
		archive := &MockArchive{}
		uc := usecase.NewJobUseCase(store, archive, testQueueConfig(), fastRetry(), newTestLogger())
		done, _ := uc.SubmitJob(ctx, "ocr", []string{"doc1"}, nil, nil)
		queued, _ := uc.SubmitJob(ctx, "nlp_analysis", []string{"doc2"}, nil, nil)
		_, _ = uc.NextJob(ctx, "worker-1", "ocr")
		_ = uc.CompleteTask(ctx, done+"_task_0", "ok", "")

		// Act
		time.Sleep(2 * time.Millisecond)
		n, err := uc.ReapExpired(ctx, 0)

		// Assert
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if n != 1 {
			t.Fatalf("expected 1 evicted job, but got %d", n)
		}
		if archive.Count() != 1 {
			t.Errorf("expected 1 archived job, but got %d", archive.Count())
		}
		if archive.Archived[0].Job.ID != done || len(archive.Archived[0].Tasks) != 1 {
			t.Errorf("unexpected archive payload: %+v", archive.Archived[0])
		}
		if store.HasKey("job:" + done) {
			t.Error("expected the job snapshot to be deleted")
		}
		if store.HasKey("task:" + done + "_task_0") {
			t.Error("expected the task snapshot to be deleted")
		}
		if _, err := uc.JobStatus(ctx, done); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected the evicted job to be gone, but got: %v", err)
		}
		if _, err := uc.JobStatus(ctx, queued); err != nil {
			t.Errorf("expected the queued job to survive, but got: %v", err)
		}
	})

	t.Run("should respect the retention window", func(t *testing.T) {
		store := NewMockStore()
		uc := usecase.NewJobUseCase(store, nil, testQueueConfig(), fastRetry(), newTestLogger())
		id, _ := uc.SubmitJob(ctx, "ocr", []string{"doc1"}, nil, nil)
		_, _ = uc.CancelJob(ctx, id)

		n, err := uc.ReapExpired(ctx, time.Hour)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if n != 0 {
			t.Errorf("expected the fresh job to be kept, but %d were evicted", n)
		}
	})

	t.Run("should evict even when the archive is down", func(t *testing.T) {
		store := NewMockStore()
		archive := &MockArchive{}
		archive.ArchiveJobFunc = func(ctx context.Context, tx repository.Tx, job *model.Job, tasks []*model.Task) error {
			return errors.New("archive down")
		}
		uc := usecase.NewJobUseCase(store, archive, testQueueConfig(), fastRetry(), newTestLogger())
		id, _ := uc.SubmitJob(ctx, "ocr", []string{"doc1"}, nil, nil)
		_, _ = uc.CancelJob(ctx, id)

		time.Sleep(2 * time.Millisecond)
		n, err := uc.ReapExpired(ctx, 0)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if n != 1 {
			t.Errorf("expected eviction despite the archive failure, but got %d", n)
		}
	})
}

func TestFlushDirty(t *testing.T) {
	ctx := context.Background()

	t.Run("should re-persist snapshots deferred by store failures", func(t *testing.T) {
		// Arrange: submission passes, then the store starts failing writes.
		store := NewMockStore()
		uc := usecase.NewJobUseCase(store, nil, testQueueConfig(), fastRetry(), newTestLogger())
		id, _ := uc.SubmitJob(ctx, "ocr", []string{"doc1", "doc2"}, nil, nil)

		store.SetExFunc = func(ctx context.Context, key, value string, ttl time.Duration) error {
			return errors.New("store down")
		}
		if err := uc.UpdateProgress(ctx, id, 1, 0); err != nil {
			t.Fatalf("expected the progress update to be applied in memory, but got: %v", err)
		}

		// Act: the store recovers and the flush catches up.
		store.SetExFunc = nil
		flushed := uc.FlushDirty(ctx)

		// Assert
		if flushed != 1 {
			t.Fatalf("expected 1 flushed job, but got %d", flushed)
		}
		data, err := store.Get(ctx, "job:"+id)
		if err != nil {
			t.Fatalf("expected a snapshot, but got: %v", err)
		}
		if !strings.Contains(data, `"CompletedTasks":1`) {
			t.Errorf("expected the flushed snapshot to carry the new counters: %s", data)
		}
		if uc.FlushDirty(ctx) != 0 {
			t.Error("expected nothing left to flush")
		}
	})
}

func TestRestore(t *testing.T) {
	ctx := context.Background()

	t.Run("should rebuild state and requeue waiting jobs", func(t *testing.T) {
		// Arrange: a finished, a queued and a running job from a past life.
		store := NewMockStore()
		cfg := testQueueConfig()
		previous := usecase.NewJobUseCase(store, nil, cfg, fastRetry(), newTestLogger())
		finished, _ := previous.SubmitJob(ctx, "ocr", []string{"doc1"}, nil, nil)
		queued, _ := previous.SubmitJob(ctx, "nlp_analysis", []string{"doc2"}, nil, nil)
		_, _ = previous.NextJob(ctx, "worker-1", "ocr")
		_ = previous.CompleteTask(ctx, finished+"_task_0", "ok", "")
		running, _ := previous.SubmitJob(ctx, "fast", []string{"doc3"}, nil, intPtr(20))
		_, _ = previous.NextJob(ctx, "worker-2", "ocr") // leases the fast job
		if err := previous.Close(ctx); err != nil {
			t.Fatalf("flush failed: %v", err)
		}

		// Act: a fresh process restores from the same store.
		uc := usecase.NewJobUseCase(store, nil, cfg, fastRetry(), newTestLogger())
		n, err := uc.Restore(ctx)

		// Assert
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if n != 3 {
			t.Fatalf("expected 3 restored jobs, but got %d", n)
		}
		res, err := uc.JobResults(ctx, finished)
		if err != nil || res.Successful != 1 {
			t.Errorf("expected the finished job to keep its results, but got %+v, %v", res, err)
		}
		job, err := uc.NextJob(ctx, "worker-9", "nlp")
		if err != nil {
			t.Fatalf("expected the queued job to be dispatchable, but got: %v", err)
		}
		if job.ID != queued {
			t.Errorf("expected job %s, but got %s", queued, job.ID)
		}

		// The running job kept its original deadline and times out.
		info, _ := uc.JobStatus(ctx, running)
		if info.Status != model.JobStatusRunning {
			t.Fatalf("expected the running job to be restored as running, but got %q", info.Status)
		}
		time.Sleep(50 * time.Millisecond)
		if _, err := uc.SweepExpiredLeases(ctx); err != nil {
			t.Fatalf("sweep failed: %v", err)
		}
		info, _ = uc.JobStatus(ctx, running)
		if info.Status != model.JobStatusTimeout {
			t.Errorf("expected the orphaned job to time out, but got %q", info.Status)
		}
	})
}

func TestQueueMetricsAndHealth(t *testing.T) {
	ctx := context.Background()

	t.Run("should census jobs and tasks by worker type", func(t *testing.T) {
		store := NewMockStore()
		uc := usecase.NewJobUseCase(store, nil, testQueueConfig(), fastRetry(), newTestLogger())
		_, _ = uc.SubmitJob(ctx, "ocr", []string{"d1", "d2"}, nil, nil)
		_, _ = uc.SubmitJob(ctx, "nlp_analysis", []string{"d3"}, nil, nil)
		_, _ = uc.NextJob(ctx, "worker-1", "ocr")

		qm, err := uc.QueueMetrics(ctx, "ocr")
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if qm.TotalJobs != 1 || qm.Jobs[model.JobStatusRunning] != 1 {
			t.Errorf("unexpected ocr census: %+v", qm)
		}
		if qm.Tasks[model.TaskStatusPending] != 2 {
			t.Errorf("expected 2 pending ocr tasks, but got %+v", qm.Tasks)
		}
		if qm.QueueDepth != 0 {
			t.Errorf("expected an empty ocr queue, but got %d", qm.QueueDepth)
		}

		all, _ := uc.QueueMetrics(ctx, "")
		if all.TotalJobs != 2 || all.QueueDepth != 1 {
			t.Errorf("unexpected global census: %+v", all)
		}
	})

	t.Run("should reflect store health and utilization", func(t *testing.T) {
		store := NewMockStore()
		uc := usecase.NewJobUseCase(store, nil, testQueueConfig(), fastRetry(), newTestLogger())
		_, _ = uc.SubmitJob(ctx, "ocr", []string{"d1"}, nil, nil)
		_, _ = uc.NextJob(ctx, "worker-1", "ocr")

		snap := uc.RefreshMetrics(ctx)
		if snap.JobsSubmitted != 1 || snap.ActiveAssignments != 1 {
			t.Errorf("unexpected snapshot: %+v", snap)
		}
		if !almostEqual(snap.WorkerUtilization, 0.25) {
			t.Errorf("expected utilization 0.25, but got %f", snap.WorkerUtilization)
		}

		health := uc.HealthStatus(ctx)
		if health.Status != model.HealthOK || !health.StoreConnected {
			t.Errorf("expected a healthy report, but got %+v", health)
		}

		uc.SetStoreConnected(false)
		health = uc.HealthStatus(ctx)
		if health.Status != model.HealthDegraded || health.StoreConnected {
			t.Errorf("expected a degraded report, but got %+v", health)
		}
	})
}
