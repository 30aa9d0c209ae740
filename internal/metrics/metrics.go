// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the engine-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	GroupsPrepared = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wallet_engine",
			Subsystem: "builder",
			Name:      "groups_prepared_total",
			Help:      "Transaction groups prepared, by operation family.",
		},
		[]string{"family"},
	)

	GroupsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wallet_engine",
			Subsystem: "submitter",
			Name:      "groups_submitted_total",
			Help:      "Transaction groups submitted, by family and outcome.",
		},
		[]string{"family", "outcome"},
	)

	SubmitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wallet_engine",
			Subsystem: "submitter",
			Name:      "submit_duration_seconds",
			Help:      "Time from submission to confirmation or failure.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to ~1m
		},
		[]string{"family"},
	)

	ScannerRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wallet_engine",
			Subsystem: "scanner",
			Name:      "inbound_rows_total",
			Help:      "Inbound transfer rows created by the scanner.",
		},
		[]string{"asset"},
	)

	ScannerPages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wallet_engine",
			Subsystem: "scanner",
			Name:      "pages_total",
			Help:      "Indexer pages processed by the scanner.",
		},
	)

	BalanceRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wallet_engine",
			Subsystem: "reconciler",
			Name:      "balance_refreshes_total",
			Help:      "Balance refresh attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	SponsorBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "wallet_engine",
			Subsystem: "sponsor",
			Name:      "balance_microalgos",
			Help:      "Last observed sponsor account balance.",
		},
	)

	SponsoredOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wallet_engine",
			Subsystem: "sponsor",
			Name:      "operations_total",
			Help:      "Operations the sponsor paid for, by outcome.",
		},
		[]string{"outcome"},
	)

	SessionConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "wallet_engine",
			Subsystem: "session",
			Name:      "open_connections",
			Help:      "Currently open session channels.",
		},
	)

	WorkerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wallet_engine",
			Subsystem: "worker",
			Name:      "runs_total",
			Help:      "Background task runs, by task and outcome.",
		},
		[]string{"task", "outcome"},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wallet_engine",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served, by route, method and status.",
		},
		[]string{"route", "method", "status"},
	)

	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wallet_engine",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency, by route.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	Registry.MustRegister(
		GroupsPrepared,
		GroupsSubmitted,
		SubmitDuration,
		ScannerRows,
		ScannerPages,
		BalanceRefreshes,
		SponsorBalance,
		SponsoredOps,
		SessionConnections,
		WorkerRuns,
		HTTPRequests,
		HTTPDuration,
	)
}

// Handler returns the HTTP handler serving the engine registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
