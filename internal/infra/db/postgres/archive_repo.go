package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"docqueue/internal/domain/model"
	"docqueue/internal/domain/ports/repository"
)

var _ repository.JobArchive = (*jobArchiveRepo)(nil)

// jobArchiveRepo copies settled jobs into Postgres before the reaper
// evicts their snapshots. Rows are upserted so a crashed or repeated
// reap cycle lands on the same state.
type jobArchiveRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewJobArchiveRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *jobArchiveRepo {
	return &jobArchiveRepo{
		pool: pool,
		tm:   tm,
	}
}

func (r *jobArchiveRepo) ArchiveJob(ctx context.Context, tx repository.Tx, job *model.Job, tasks []*model.Task) error {
	if tx == nil {
		// One transaction per job: the job row and all its task rows land
		// together or not at all.
		return r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			return r.archive(ctx, tx, job, tasks)
		})
	}
	return r.archive(ctx, tx, job, tasks)
}

func (r *jobArchiveRepo) archive(ctx context.Context, tx repository.Tx, job *model.Job, tasks []*model.Task) error {
	var options, results []byte
	var err error
	if job.Options != nil {
		if options, err = json.Marshal(job.Options); err != nil {
			return fmt.Errorf("marshal options for job %s: %w", job.ID, err)
		}
	}
	if job.Results != nil {
		if results, err = json.Marshal(job.Results); err != nil {
			return fmt.Errorf("marshal results for job %s: %w", job.ID, err)
		}
	}

	const q = `
INSERT INTO archived_jobs (id, type, status, priority, documents, options, worker_type,
  total_tasks, completed_tasks, failed_tasks, progress, retry_count, max_retries,
  timeout_seconds, error_message, results, created_at, started_at, completed_at, archived_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, now())
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  completed_tasks = EXCLUDED.completed_tasks,
  failed_tasks = EXCLUDED.failed_tasks,
  progress = EXCLUDED.progress,
  retry_count = EXCLUDED.retry_count,
  error_message = EXCLUDED.error_message,
  results = EXCLUDED.results,
  completed_at = EXCLUDED.completed_at,
  archived_at = now();`

	_, err = execSQL(ctx, r.pool, tx, q,
		job.ID, job.Type, string(job.Status), job.Priority, job.Documents, options, job.WorkerType,
		job.TotalTasks, job.CompletedTasks, job.FailedTasks, job.Progress, job.RetryCount, job.MaxRetries,
		int64(job.Timeout/time.Second), job.ErrorMessage, results, job.CreatedAt, job.StartedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("archive job %s: %w", job.ID, err)
	}

	const tq = `
INSERT INTO archived_tasks (id, job_id, document_id, type, status, worker_id,
  retry_count, max_retries, error_message, result, created_at, started_at, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  worker_id = EXCLUDED.worker_id,
  retry_count = EXCLUDED.retry_count,
  error_message = EXCLUDED.error_message,
  result = EXCLUDED.result,
  completed_at = EXCLUDED.completed_at;`

	for _, task := range tasks {
		result, err := marshalNullable(task.Result)
		if err != nil {
			return fmt.Errorf("marshal result for task %s: %w", task.ID, err)
		}
		_, err = execSQL(ctx, r.pool, tx, tq,
			task.ID, task.JobID, task.DocumentID, task.Type, string(task.Status), task.WorkerID,
			task.RetryCount, task.MaxRetries, task.ErrorMessage, result, task.CreatedAt, task.StartedAt, task.CompletedAt)
		if err != nil {
			return fmt.Errorf("archive task %s: %w", task.ID, err)
		}
	}
	return nil
}

// marshalNullable keeps empty values as SQL NULL instead of a JSON
// "null" literal.
func marshalNullable(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
