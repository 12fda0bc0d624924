package dictionary

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// buildTotal counts finished builds by result (ok, config_error, task_error, invariant_error)
	buildTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logdict_build_total",
		Help: "Total dictionary builds by result",
	}, []string{"result"})

	buildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "logdict_build_duration_seconds",
		Help:    "Wall-clock duration of dictionary builds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~32s
	})

	linesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logdict_lines_processed_total",
		Help: "Log lines tokenized by dictionary workers",
	})

	linesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logdict_lines_skipped_total",
		Help: "Malformed log lines skipped by tolerant builds",
	})

	chunkDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "logdict_chunk_duration_seconds",
		Help:    "Time a worker spent on one chunk",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 18), // 0.1ms to ~13s
	})
)
