// Package metrics exposes Prometheus collectors for scan and
// verification activity.
//
// Collectors live on a package-private registry so tests and repeated
// CLI invocations never trip duplicate-registration panics on the
// default registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	entriesClassified = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rinextank",
		Subsystem: "scan",
		Name:      "entries_classified_total",
		Help:      "Archive entries classified, by entry kind.",
	}, []string{"kind"})

	traversalErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rinextank",
		Subsystem: "scan",
		Name:      "traversal_errors_total",
		Help:      "Unreadable paths recorded during scans.",
	})

	scanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rinextank",
		Subsystem: "scan",
		Name:      "duration_seconds",
		Help:      "Wall-clock duration of completed scans.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	verificationRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rinextank",
		Subsystem: "verify",
		Name:      "runs_total",
		Help:      "Cluster verification runs, by overall verdict.",
	}, []string{"verdict"})

	nodeProbes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rinextank",
		Subsystem: "verify",
		Name:      "node_probes_total",
		Help:      "Per-node probe results, by outcome.",
	}, []string{"node", "outcome"})

	nodeProbeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rinextank",
		Subsystem: "verify",
		Name:      "node_probe_duration_seconds",
		Help:      "Per-node probe round-trip durations.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"node"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		entriesClassified,
		traversalErrors,
		scanDuration,
		verificationRuns,
		nodeProbes,
		nodeProbeDuration,
	)
}

// Handler serves the registry for the /metrics mount.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveEntry records one classified entry.
func ObserveEntry(kind string) {
	entriesClassified.WithLabelValues(kind).Inc()
}

// ObserveTraversalError records one unreadable path.
func ObserveTraversalError() {
	traversalErrors.Inc()
}

// ObserveScan records a completed scan.
func ObserveScan(d time.Duration) {
	scanDuration.Observe(d.Seconds())
}

// ObserveVerification records one verification run and its per-node
// outcomes.
func ObserveVerification(verdict string) {
	verificationRuns.WithLabelValues(verdict).Inc()
}

// ObserveNodeProbe records one node probe result.
func ObserveNodeProbe(node, outcome string, elapsed time.Duration) {
	nodeProbes.WithLabelValues(node, outcome).Inc()
	nodeProbeDuration.WithLabelValues(node).Observe(elapsed.Seconds())
}
