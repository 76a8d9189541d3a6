package occ

import "github.com/prometheus/client_golang/prometheus"

var (
	txnCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dictkv",
			Subsystem: "occ",
			Name:      "txn_total",
			Help:      "Counter of finished transactions that had claimed shards.",
		}, []string{"result"})

	conflictCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dictkv",
			Subsystem: "occ",
			Name:      "write_conflict_total",
			Help:      "Counter of write registrations rejected by a conflict.",
		}, []string{"kind"})

	registerCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dictkv",
			Subsystem: "occ",
			Name:      "register_write_total",
			Help:      "Counter of write registrations.",
		})

	commitShards = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "dictkv",
			Subsystem: "occ",
			Name:      "commit_shards",
			Help:      "Bucketed histogram of the number of shards made visible by a commit.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		})
)

var (
	// WithLabelValues is a heavy operation, define variable to avoid call it every time.
	txnCommitted          = txnCounter.WithLabelValues("commit")
	txnAborted            = txnCounter.WithLabelValues("abort")
	conflictOnCommitted   = conflictCounter.WithLabelValues(ConflictCommitted.String())
	conflictOnUncommitted = conflictCounter.WithLabelValues(ConflictUncommitted.String())
)

func init() {
	prometheus.MustRegister(txnCounter)
	prometheus.MustRegister(conflictCounter)
	prometheus.MustRegister(registerCounter)
	prometheus.MustRegister(commitShards)
}
