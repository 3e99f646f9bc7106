// Package metrics exposes Prometheus counters and gauges for the swap
// lifecycle, scraped over the same kind of plain HTTP handler most of
// the pack's daemons expose for their own instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coinswap"

var (
	// SwapsStarted counts every swap begun, labeled by role
	// (taker/maker).
	SwapsStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "swaps_started_total",
		Help:      "Total number of swaps started, by role.",
	}, []string{"role"})

	// SwapsCompleted counts every swap that reached Phase Complete.
	SwapsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "swaps_completed_total",
		Help:      "Total number of swaps that completed successfully.",
	}, []string{"role"})

	// SwapsAborted counts every swap that entered Phase Aborted,
	// labeled by the abort case (AbortCase1/2/3) per spec.md §4.D/§4.E.
	SwapsAborted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "swaps_aborted_total",
		Help:      "Total number of swaps aborted, by abort case.",
	}, []string{"abort_case"})

	// ActiveSwaps is the current number of in-flight SwapContexts.
	ActiveSwaps = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_swaps",
		Help:      "Number of swaps currently in flight.",
	}, []string{"role"})

	// SwapDuration measures wall-clock time from Phase Negotiating to
	// a terminal phase.
	SwapDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "swap_duration_seconds",
		Help:      "Time from swap start to a terminal phase.",
		Buckets:   prometheus.ExponentialBuckets(10, 2, 12),
	}, []string{"outcome"})

	// BadMakersKnown is the current size of a Taker's bad_makers set.
	BadMakersKnown = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "bad_makers_known",
		Help:      "Number of Makers currently marked as misbehaving.",
	})

	// WatchtowerEvents counts every watchtower.Event delivered, labeled
	// by kind.
	WatchtowerEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "watchtower_events_total",
		Help:      "Total number of watchtower events delivered, by kind.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(
		SwapsStarted,
		SwapsCompleted,
		SwapsAborted,
		ActiveSwaps,
		SwapDuration,
		BadMakersKnown,
		WatchtowerEvents,
	)
}

// Handler returns the HTTP handler a coinswapd process mounts
// at its metrics listen address.
func Handler() http.Handler {
	return promhttp.Handler()
}
