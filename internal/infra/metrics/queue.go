package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(queueDepth, workerUtilization, assignmentsActive, workersMax)
}

var queueDepth = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "queue_depth",
		Help: "Jobs currently waiting across every priority tier.",
	},
)

var workerUtilization = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "queue_worker_utilization",
		Help: "Fraction of the worker pool holding an active job lease.",
	},
)

var assignmentsActive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "queue_assignments_active",
		Help: "Worker leases currently outstanding.",
	},
)

var workersMax = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "queue_workers_max",
		Help: "Configured size of the worker pool.",
	},
)

func SetQueueDepth(n int64) {
	queueDepth.Set(float64(n))
}

func SetWorkerUtilization(u float64) {
	workerUtilization.Set(u)
}

func SetAssignmentsActive(n int) {
	assignmentsActive.Set(float64(n))
}

func SetWorkersMax(n int) {
	workersMax.Set(float64(n))
}
