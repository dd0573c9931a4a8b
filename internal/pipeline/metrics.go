package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal counts finished jobs.
	// Labels: status (completed, partial, failed, duplicate_skipped)
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lmrate",
			Subsystem: "pipeline",
			Name:      "jobs_total",
			Help:      "Total number of rating jobs by final status",
		},
		[]string{"status"},
	)

	// JobDuration tracks job latency from dequeue to final status.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lmrate",
			Subsystem: "pipeline",
			Name:      "job_duration_seconds",
			Help:      "Duration of rating jobs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
		},
		[]string{"status"},
	)

	// QueueDepth is the number of jobs waiting for a worker.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lmrate",
			Subsystem: "pipeline",
			Name:      "queue_depth",
			Help:      "Number of queued rating jobs",
		},
	)

	// StoreRetries counts retried storage writes.
	StoreRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lmrate",
			Subsystem: "pipeline",
			Name:      "store_retries_total",
			Help:      "Total number of retried pathstore writes",
		},
	)
)
