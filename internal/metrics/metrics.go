// Package metrics exposes the Prometheus instrumentation for the scrape
// pipeline. Collectors register on the default registry; the /metrics
// endpoint serves them via promhttp.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal counts finished scrape cycles by outcome:
	// ok, fetch_error, mail_error, store_error.
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundawatch_cycles_total",
			Help: "Total number of finished scrape cycles by result",
		},
		[]string{"result"},
	)

	// NewListingsTotal counts listings seen for the first time.
	NewListingsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fundawatch_listings_new_total",
			Help: "Total number of newly discovered listings",
		},
	)

	// CyclesInFlight tracks cycles currently holding a worker slot.
	CyclesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fundawatch_cycles_in_flight",
			Help: "Number of scrape cycles currently running",
		},
	)

	// CycleDuration tracks end-to-end cycle latency. Buckets span a fast
	// cached page through a full retry ladder.
	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fundawatch_cycle_duration_seconds",
			Help:    "Duration of scrape cycles in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	// DigestsSentTotal counts delivered email digests.
	DigestsSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fundawatch_digests_sent_total",
			Help: "Total number of email digests delivered",
		},
	)

	// JobsScheduled tracks the size of the scheduler's job registry.
	JobsScheduled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fundawatch_jobs_scheduled",
			Help: "Number of profile jobs currently registered",
		},
	)
)

// ObserveCycle records one finished cycle.
func ObserveCycle(result string, d time.Duration, newListings int) {
	CyclesTotal.WithLabelValues(result).Inc()
	CycleDuration.Observe(d.Seconds())
	if newListings > 0 {
		NewListingsTotal.Add(float64(newListings))
	}
}
