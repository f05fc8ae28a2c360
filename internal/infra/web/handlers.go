// File: internal/infra/web/handlers.go
package web

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"docqueue/internal/domain"
	"docqueue/internal/domain/model"
	"docqueue/internal/infra/logging"
	"docqueue/internal/usecase"
)

// A struct to define the expected JSON request body for submitting a job.
type jobSubmitRequest struct {
	Type      string         `json:"type"`
	Documents []string       `json:"documents"`
	Options   map[string]any `json:"options"`
	Priority  *int           `json:"priority"`
}

type loginRequest struct {
	APIKey string `json:"api_key"`
}

type progressRequest struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

type pollRequest struct {
	WorkerID   string `json:"worker_id"`
	WorkerType string `json:"worker_type"`
}

type taskCompleteRequest struct {
	Result any    `json:"result"`
	Error  string `json:"error"`
}

// loginHandler exchanges the static API key for a signed session token.
// The token is returned in the body and set as the session cookie.
func loginHandler(apiKey string, auth *AuthManager, logger *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if apiKey == "" {
			logger.Error().Msg("API key is not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if subtle.ConstantTimeCompare([]byte(req.APIKey), []byte(apiKey)) != 1 {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		token, err := auth.Mint(w)
		if err != nil {
			logger.Error().Err(err).Msg("failed to mint session token")
			http.Error(w, "Failed to create session", http.StatusInternalServerError)
			return
		}

		response := struct {
			Token string `json:"token"`
		}{Token: token}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)
	}
}

func logoutHandler(auth *AuthManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth.Clear(w)
		w.WriteHeader(http.StatusNoContent)
	}
}

// Handler for submitting a new processing job.
func jobSubmitHandler(jobUC usecase.JobUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req jobSubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		jobID, err := jobUC.SubmitJob(ctx, req.Type, req.Documents, req.Options, req.Priority)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrInvalidArgument):
				http.Error(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, domain.ErrQueueFull):
				http.Error(w, err.Error(), http.StatusTooManyRequests)
			default:
				http.Error(w, "Failed to submit job", http.StatusInternalServerError)
			}
			return
		}

		response := struct {
			JobID  string `json:"job_id"`
			Status string `json:"status"`
		}{
			JobID:  jobID,
			Status: string(model.JobStatusQueued),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(response)
	}
}

// jobStatusResponse is the wire shape of a job status report. Timestamps
// are RFC 3339; the timeout is reported in whole seconds.
type jobStatusResponse struct {
	JobID          string     `json:"job_id"`
	Type           string     `json:"type"`
	Status         string     `json:"status"`
	Priority       int        `json:"priority"`
	Progress       float64    `json:"progress"`
	TotalTasks     int        `json:"total_tasks"`
	CompletedTasks int        `json:"completed_tasks"`
	FailedTasks    int        `json:"failed_tasks"`
	WorkerType     string     `json:"worker_type"`
	TimeoutSeconds int64      `json:"timeout_seconds"`
	RetryCount     int        `json:"retry_count"`
	MaxRetries     int        `json:"max_retries"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Error          string     `json:"error,omitempty"`
	Results        *struct {
		Successful int `json:"successful"`
		Failed     int `json:"failed"`
	} `json:"results,omitempty"`
}

func jobStatusHandler(jobUC usecase.JobUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		jobID := chi.URLParam(r, "jobID")
		info, err := jobUC.JobStatus(ctx, jobID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			http.Error(w, "Failed to get job status", http.StatusInternalServerError)
			return
		}

		response := jobStatusResponse{
			JobID:          info.JobID,
			Type:           info.Type,
			Status:         string(info.Status),
			Priority:       info.Priority,
			Progress:       info.Progress,
			TotalTasks:     info.TotalTasks,
			CompletedTasks: info.CompletedTasks,
			FailedTasks:    info.FailedTasks,
			WorkerType:     info.WorkerType,
			TimeoutSeconds: int64(info.Timeout / time.Second),
			RetryCount:     info.RetryCount,
			MaxRetries:     info.MaxRetries,
			CreatedAt:      info.CreatedAt,
			StartedAt:      info.StartedAt,
			CompletedAt:    info.CompletedAt,
			Error:          info.ErrorMessage,
		}
		if info.Results != nil {
			response.Results = &struct {
				Successful int `json:"successful"`
				Failed     int `json:"failed"`
			}{
				Successful: info.Results.Successful,
				Failed:     info.Results.Failed,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)
	}
}

func jobResultsHandler(jobUC usecase.JobUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		jobID := chi.URLParam(r, "jobID")
		results, err := jobUC.JobResults(ctx, jobID)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrNotFound):
				http.NotFound(w, r)
			case errors.Is(err, domain.ErrNotCompleted):
				http.Error(w, err.Error(), http.StatusConflict)
			default:
				http.Error(w, "Failed to get job results", http.StatusInternalServerError)
			}
			return
		}

		response := struct {
			Successful int               `json:"successful"`
			Failed     int               `json:"failed"`
			Documents  map[string]any    `json:"documents"`
			Errors     map[string]string `json:"errors,omitempty"`
		}{
			Successful: results.Successful,
			Failed:     results.Failed,
			Documents:  results.Documents,
			Errors:     results.Errors,
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)
	}
}

// Handler for bulk progress reports from workers.
func jobProgressHandler(jobUC usecase.JobUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		jobID := chi.URLParam(r, "jobID")
		var req progressRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.Completed < 0 || req.Failed < 0 {
			http.Error(w, "Counters must be non-negative", http.StatusBadRequest)
			return
		}

		ctx = logging.WithJobID(ctx, jobID)
		if err := jobUC.UpdateProgress(ctx, jobID, req.Completed, req.Failed); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			http.Error(w, "Failed to update progress", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// workerPollHandler leases the next job to a worker. An empty queue is a
// 204, not an error; workers are expected to poll on an interval.
func workerPollHandler(jobUC usecase.JobUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req pollRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		ctx = logging.WithWorkerID(ctx, req.WorkerID)
		job, err := jobUC.NextJob(ctx, req.WorkerID, req.WorkerType)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrNotFound):
				w.WriteHeader(http.StatusNoContent)
			case errors.Is(err, domain.ErrInvalidArgument):
				http.Error(w, err.Error(), http.StatusBadRequest)
			default:
				http.Error(w, "Failed to lease job", http.StatusInternalServerError)
			}
			return
		}

		// Task ids are deterministic per document, so the worker can report
		// each outcome without another round trip.
		taskIDs := make([]string, len(job.Documents))
		for i := range job.Documents {
			taskIDs[i] = model.TaskID(job.ID, i)
		}

		response := struct {
			JobID          string         `json:"job_id"`
			Type           string         `json:"type"`
			Documents      []string       `json:"documents"`
			TaskIDs        []string       `json:"task_ids"`
			Options        map[string]any `json:"options,omitempty"`
			Priority       int            `json:"priority"`
			TimeoutSeconds int64          `json:"timeout_seconds"`
			RetryCount     int            `json:"retry_count"`
		}{
			JobID:          job.ID,
			Type:           job.Type,
			Documents:      job.Documents,
			TaskIDs:        taskIDs,
			Options:        job.Options,
			Priority:       job.Priority,
			TimeoutSeconds: int64(job.Timeout / time.Second),
			RetryCount:     job.RetryCount,
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)
	}
}

func taskCompleteHandler(jobUC usecase.JobUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		taskID := chi.URLParam(r, "taskID")
		var req taskCompleteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		ctx = logging.WithTaskID(ctx, taskID)
		if err := jobUC.CompleteTask(ctx, taskID, req.Result, req.Error); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			http.Error(w, "Failed to record task outcome", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func jobCancelHandler(jobUC usecase.JobUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		jobID := chi.URLParam(r, "jobID")
		ok, err := jobUC.CancelJob(logging.WithJobID(ctx, jobID), jobID)
		if err != nil {
			http.Error(w, "Failed to cancel job", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "Job is unknown or already settled", http.StatusConflict)
			return
		}

		response := struct {
			Cancelled bool `json:"cancelled"`
		}{Cancelled: true}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)
	}
}

func jobRetryHandler(jobUC usecase.JobUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		jobID := chi.URLParam(r, "jobID")
		ok, err := jobUC.RetryJob(logging.WithJobID(ctx, jobID), jobID)
		if err != nil {
			http.Error(w, "Failed to retry job", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "Job is not retryable", http.StatusConflict)
			return
		}

		response := struct {
			Requeued bool `json:"requeued"`
		}{Requeued: true}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)
	}
}

// queueMetricsHandler returns the live job/task census, optionally
// narrowed with the worker_type query parameter.
func queueMetricsHandler(jobUC usecase.JobUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		m, err := jobUC.QueueMetrics(ctx, r.URL.Query().Get("worker_type"))
		if err != nil {
			http.Error(w, "Failed to collect queue metrics", http.StatusInternalServerError)
			return
		}

		response := struct {
			WorkerType string                   `json:"worker_type,omitempty"`
			TotalJobs  int                      `json:"total_jobs"`
			Jobs       map[model.JobStatus]int  `json:"jobs"`
			Tasks      map[model.TaskStatus]int `json:"tasks"`
			QueueDepth int64                    `json:"queue_depth"`
		}{
			WorkerType: m.WorkerType,
			TotalJobs:  m.TotalJobs,
			Jobs:       m.Jobs,
			Tasks:      m.Tasks,
			QueueDepth: m.QueueDepth,
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)
	}
}

// healthHandler reports scheduler liveness. A degraded store turns the
// response into a 503 so load balancers can rotate the instance out.
func healthHandler(jobUC usecase.JobUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		h := jobUC.HealthStatus(ctx)

		response := struct {
			Status         string `json:"status"`
			StoreConnected bool   `json:"store_connected"`
			Totals         struct {
				JobsSubmitted     uint64  `json:"jobs_submitted"`
				JobsCompleted     uint64  `json:"jobs_completed"`
				JobsFailed        uint64  `json:"jobs_failed"`
				TasksProcessed    uint64  `json:"tasks_processed"`
				QueueDepth        int64   `json:"queue_depth"`
				ActiveAssignments int     `json:"active_assignments"`
				WorkerUtilization float64 `json:"worker_utilization"`
			} `json:"totals"`
		}{
			Status:         h.Status,
			StoreConnected: h.StoreConnected,
		}
		response.Totals.JobsSubmitted = h.Totals.JobsSubmitted
		response.Totals.JobsCompleted = h.Totals.JobsCompleted
		response.Totals.JobsFailed = h.Totals.JobsFailed
		response.Totals.TasksProcessed = h.Totals.TasksProcessed
		response.Totals.QueueDepth = h.Totals.QueueDepth
		response.Totals.ActiveAssignments = h.Totals.ActiveAssignments
		response.Totals.WorkerUtilization = h.Totals.WorkerUtilization

		code := http.StatusOK
		if h.Status != model.HealthOK {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(response)
	}
}
