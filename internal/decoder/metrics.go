package decoder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StepsTotal counts processed steps.
	// Labels: outcome (decoded, skipped)
	StepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lmrate",
			Subsystem: "decoder",
			Name:      "steps_total",
			Help:      "Total number of lattice steps processed",
		},
		[]string{"outcome"},
	)

	// BatchSize tracks the number of hypotheses per scorer batch.
	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "lmrate",
			Subsystem: "decoder",
			Name:      "batch_size",
			Help:      "Hypotheses submitted per incremental scorer call",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	// MergesTotal counts hypotheses discarded by state clustering.
	MergesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lmrate",
			Subsystem: "decoder",
			Name:      "merges_total",
			Help:      "Total number of hypotheses merged by state clustering",
		},
	)

	// PrunedTotal counts hypotheses cut by the beam width.
	PrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lmrate",
			Subsystem: "decoder",
			Name:      "pruned_total",
			Help:      "Total number of hypotheses dropped by the beam width",
		},
	)

	// DecodeDuration tracks whole-document decode latency.
	DecodeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "lmrate",
			Subsystem: "decoder",
			Name:      "decode_duration_seconds",
			Help:      "Duration of document decodes in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 18),
		},
	)
)
