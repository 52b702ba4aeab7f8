// Package metrics holds the Prometheus collectors for navigation runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EpisodesTotal counts finished episodes by outcome.
	// Labels: "REACHED", "EXHAUSTED", "ABORTED"
	EpisodesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "citynav_episodes_total",
		Help: "Finished episodes by outcome",
	}, []string{"outcome"})

	// StepsTotal counts forward moves.
	StepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "citynav_steps_total",
		Help: "Forward moves resolved through the graph",
	})

	// BacktracksTotal counts rewinds by policy.
	BacktracksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "citynav_backtracks_total",
		Help: "Backtracks triggered, by policy",
	}, []string{"policy"})

	// OracleAttempts counts decision attempts by result.
	// Labels: "ok", "malformed", "timeout", "error"
	OracleAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "citynav_oracle_attempts_total",
		Help: "Oracle attempts by result",
	}, []string{"result"})

	OracleFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "citynav_oracle_fallbacks_total",
		Help: "Steps that fell back to the safe default decision",
	})

	OracleLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "citynav_oracle_duration_seconds",
		Help:    "Oracle attempt duration",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	// GraphWriteErrors counts swallowed annotation failures.
	GraphWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "citynav_graph_write_errors_total",
		Help: "Best-effort graph annotation writes that failed",
	})

	EpisodeDistance = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "citynav_episode_distance_meters",
		Help:    "Total distance walked per episode",
		Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000},
	})

	EpisodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "citynav_episode_duration_seconds",
		Help:    "Wall-clock cost per episode",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	})
)
