// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxima_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proxima_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 15, 30, 60},
		},
		[]string{"method", "path"},
	)

	// Turn metrics
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxima_turns_total",
			Help: "Triggers handled, by outcome",
		},
		[]string{"outcome"}, // "done", "skipped", "invalid", "failed"
	)

	GateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxima_gate_decisions_total",
			Help: "Idempotency gate decisions",
		},
		[]string{"role", "decision"},
	)

	StreamParts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxima_stream_parts_total",
			Help: "Runtime event parts fanned out",
		},
		[]string{"kind"},
	)

	PlaceholdersOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "proxima_placeholders_opened_total",
			Help: "Thinking placeholders created by turns",
		},
	)

	BootstrapRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxima_bootstrap_runs_total",
			Help: "Greeting runs, by variant",
		},
		[]string{"variant"}, // "onboarding" or "greet"
	)

	JobCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxima_job_calls_total",
			Help: "Downstream job calls",
		},
		[]string{"job", "result"},
	)

	RefinementRounds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proxima_refinement_rounds",
			Help:    "Critique/revise rounds per refinement run",
			Buckets: []float64{0, 1, 2, 3, 4, 5},
		},
		[]string{"accepted"},
	)

	// Watch metrics
	WatchSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "proxima_watch_subscribers",
			Help: "Open thread watch subscriptions",
		},
	)
)
