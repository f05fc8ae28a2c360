package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(storeUp, storeReconnectsTotal, persistFailuresTotal)
}

var storeUp = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "queue_store_up",
		Help: "1 while the backing store answers pings, 0 otherwise.",
	},
)

var storeReconnectsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "queue_store_reconnects_total",
		Help: "Successful store reconnects performed by the watchdog.",
	},
)

var persistFailuresTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "queue_persist_failures_total",
		Help: "Snapshot writes that failed and were deferred to the watchdog flush.",
	},
)

func SetStoreUp(up bool) {
	if up {
		storeUp.Set(1)
	} else {
		storeUp.Set(0)
	}
}

func IncStoreReconnect() {
	storeReconnectsTotal.Inc()
}

func IncPersistFailure() {
	persistFailuresTotal.Inc()
}
