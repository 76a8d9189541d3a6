package kvengine

import "github.com/prometheus/client_golang/prometheus"

var (
	txnRetryCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dictkv",
			Subsystem: "kvengine",
			Name:      "txn_retry_total",
			Help:      "Total number of operations retried after a write conflict.",
		})

	txnGiveUpCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dictkv",
			Subsystem: "kvengine",
			Name:      "txn_give_up_total",
			Help:      "Total number of operations that ran out of retries.",
		})

	writeUnitKeys = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "dictkv",
			Subsystem: "kvengine",
			Name:      "write_unit_keys",
			Help:      "Number of keys written by a committed write unit.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		})

	identGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dictkv",
			Subsystem: "kvengine",
			Name:      "idents",
			Help:      "Number of record stores and indexes in the catalog.",
		})
)

func init() {
	prometheus.MustRegister(txnRetryCounter)
	prometheus.MustRegister(txnGiveUpCounter)
	prometheus.MustRegister(writeUnitKeys)
	prometheus.MustRegister(identGauge)
}
