package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(archivePoolStats, archiveWritesTotal) }

var archivePoolStats = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "archive_pool_stats",
		Help: "Current state of the archive database connection pool.",
	},
	[]string{"state"}, // 'total', 'idle', 'in_use'
)

var archiveWritesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "archive_writes_total",
		Help: "Jobs written to the archive before eviction, labeled by result.",
	},
	[]string{"result"}, // 'ok', 'error'
)

func SetArchivePoolStats(total, idle, inUse int32) {
	archivePoolStats.WithLabelValues("total").Set(float64(total))
	archivePoolStats.WithLabelValues("idle").Set(float64(idle))
	archivePoolStats.WithLabelValues("in_use").Set(float64(inUse))
}

func IncArchiveWrite(ok bool) {
	if ok {
		archiveWritesTotal.WithLabelValues("ok").Inc()
	} else {
		archiveWritesTotal.WithLabelValues("error").Inc()
	}
}
