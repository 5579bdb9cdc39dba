// Package metrics exposes Prometheus instrumentation for the landing
// queue and worker — ambient observability the teacher's CI pipeline
// doesn't need, but a continuously-running landing service does.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth reports the number of SUBMITTED+DEFERRED jobs currently
	// waiting per repository, sampled each time ListQueue is served.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "landingd",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Number of landing jobs waiting to be claimed, by repository.",
	}, []string{"repository"})

	// ClaimLatencySeconds measures how long a job waited between
	// submission and being claimed by a worker.
	ClaimLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "landingd",
		Subsystem: "queue",
		Name:      "claim_latency_seconds",
		Help:      "Time between a job's submission and its claim by a worker.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"repository"})

	// PushOutcomesTotal counts worker push attempts by their terminal
	// outcome (landed, failed, deferred).
	PushOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "landingd",
		Subsystem: "worker",
		Name:      "push_outcomes_total",
		Help:      "Count of landing job push attempts by outcome.",
	}, []string{"repository", "outcome"})

	// JobDurationSeconds measures the wall-clock time of a single
	// worker.processJob call, mirroring the original's job_processing
	// duration capture.
	JobDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "landingd",
		Subsystem: "worker",
		Name:      "job_duration_seconds",
		Help:      "Wall-clock time spent processing a single landing job.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"repository"})
)

// Outcome labels for PushOutcomesTotal.
const (
	OutcomeLanded   = "landed"
	OutcomeFailed   = "failed"
	OutcomeDeferred = "deferred"
)
