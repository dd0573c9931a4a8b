package scorer

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CallDuration tracks scorer call latency.
	// Labels: op (incremental, stream)
	CallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lmrate",
			Subsystem: "scorer",
			Name:      "call_duration_seconds",
			Help:      "Duration of scorer calls in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		},
		[]string{"op"},
	)

	// SymbolsScored counts symbols submitted to the scorer.
	// Labels: op (incremental, stream)
	SymbolsScored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lmrate",
			Subsystem: "scorer",
			Name:      "symbols_total",
			Help:      "Total number of symbols scored",
		},
		[]string{"op"},
	)

	// CallErrors counts failed scorer calls.
	CallErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lmrate",
			Subsystem: "scorer",
			Name:      "errors_total",
			Help:      "Total number of failed scorer calls",
		},
		[]string{"op"},
	)
)

// Instrumented wraps a Scorer and records every call in Stats and in the
// package's Prometheus metrics.
type Instrumented struct {
	Scorer
	Stats *Stats
}

// Instrument wraps s. A nil stats gets a one-hour window.
func Instrument(s Scorer, stats *Stats) *Instrumented {
	if stats == nil {
		stats = NewStats(time.Hour)
	}
	return &Instrumented{Scorer: s, Stats: stats}
}

func (i *Instrumented) PredictIncremental(ctx context.Context, symbols []byte, states []State) ([]Distribution, []State, error) {
	start := time.Now()
	dists, next, err := i.Scorer.PredictIncremental(ctx, symbols, states)
	i.observe("incremental", start, len(symbols), err)
	return dists, next, err
}

func (i *Instrumented) PredictStream(ctx context.Context, text []byte) ([]float64, error) {
	start := time.Now()
	probs, err := i.Scorer.PredictStream(ctx, text)
	i.observe("stream", start, len(text), err)
	return probs, err
}

func (i *Instrumented) observe(op string, start time.Time, n int, err error) {
	d := time.Since(start)
	if err != nil {
		CallErrors.WithLabelValues(op).Inc()
		return
	}
	CallDuration.WithLabelValues(op).Observe(d.Seconds())
	SymbolsScored.WithLabelValues(op).Add(float64(n))
	i.Stats.Record(d, n)
}
