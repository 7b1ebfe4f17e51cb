// Package metrics exposes Prometheus counters and gauges for the adapter,
// aggregation, and publish stages (ambient observability; not excluded by
// any documented non-goal).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AdapterFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flora",
		Subsystem: "adapter",
		Name:      "fetch_total",
		Help:      "Adapter fetch attempts by adapter id and outcome.",
	}, []string{"adapter_id", "outcome"})

	EpochsSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flora",
		Subsystem: "petal",
		Name:      "epochs_skipped_total",
		Help:      "Epochs skipped because one or more adapters failed.",
	})

	ProofsAcceptedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flora",
		Subsystem: "intake",
		Name:      "proofs_accepted_total",
		Help:      "Proofs that passed intake validation.",
	})

	ProofsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flora",
		Subsystem: "intake",
		Name:      "proofs_rejected_total",
		Help:      "Proofs rejected by intake, by reason.",
	}, []string{"reason"})

	ConsensusReachedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flora",
		Subsystem: "aggregator",
		Name:      "consensus_reached_total",
		Help:      "Epochs that reached quorum.",
	})

	LatestConsensusEpoch = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "flora",
		Subsystem: "aggregator",
		Name:      "latest_epoch",
		Help:      "Most recent epoch to reach quorum.",
	})

	PublishAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flora",
		Subsystem: "publisher",
		Name:      "attempts_total",
		Help:      "Leader publish attempts by outcome.",
	}, []string{"outcome"})
)
