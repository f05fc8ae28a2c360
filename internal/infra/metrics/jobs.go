package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(jobsSubmittedTotal, jobsFinishedTotal, tasksProcessedTotal, jobsReapedTotal, jobsTimedOutTotal)
}

var jobsSubmittedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "queue_jobs_submitted_total",
		Help: "Total number of jobs accepted into the queue, labeled by job type.",
	},
	[]string{"type"},
)

var jobsFinishedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "queue_jobs_finished_total",
		Help: "Total number of jobs that reached a terminal state, labeled by outcome.",
	},
	[]string{"status"}, // 'completed', 'failed', 'cancelled', 'timeout'
)

var tasksProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "queue_tasks_processed_total",
		Help: "Total number of task completion reports applied, labeled by outcome.",
	},
	[]string{"status"}, // 'completed', 'failed'
)

var jobsReapedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "queue_jobs_reaped_total",
		Help: "Total number of terminal jobs evicted by the expiry reaper.",
	},
)

var jobsTimedOutTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "queue_jobs_timed_out_total",
		Help: "Total number of running jobs the watchdog marked as timed out.",
	},
)

func IncJobSubmitted(jobType string) {
	jobsSubmittedTotal.WithLabelValues(norm(jobType)).Inc()
}

func IncJobFinished(status string) {
	jobsFinishedTotal.WithLabelValues(norm(status)).Inc()
}

func IncTaskProcessed(status string) {
	tasksProcessedTotal.WithLabelValues(norm(status)).Inc()
}

func AddJobsReaped(n int) {
	if n > 0 {
		jobsReapedTotal.Add(float64(n))
	}
}

func AddJobsTimedOut(n int) {
	if n > 0 {
		jobsTimedOutTotal.Add(float64(n))
	}
}
