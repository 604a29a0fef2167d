// Package metrics exposes Prometheus collectors for the acquisition agent.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesFetchedTotal  *prometheus.CounterVec
	bytesFetchedTotal  *prometheus.CounterVec
	robotsDeniedTotal  prometheus.Counter
	throttleDelay      *prometheus.HistogramVec
	runsTotal          *prometheus.CounterVec
	documentsIngested  prometheus.Counter
	candidatesFound    prometheus.Counter
	consentDenialTotal prometheus.Counter

	once sync.Once
)

// Init registers the collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "veilleur_pages_fetched_total",
				Help: "Total pages fetched, labeled by host and outcome.",
			},
			[]string{"host", "outcome"},
		)

		bytesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "veilleur_bytes_fetched_total",
				Help: "Total bytes fetched, labeled by host.",
			},
			[]string{"host"},
		)

		robotsDeniedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "veilleur_robots_denied_total",
				Help: "Fetches denied by robots exclusion.",
			},
		)

		throttleDelay = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "veilleur_throttle_delay_seconds",
				Help:    "Delay introduced by per-host throttling.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"host"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "veilleur_runs_total",
				Help: "Autopilot runs, labeled by terminal reason.",
			},
			[]string{"reason"},
		)

		documentsIngested = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "veilleur_chunks_ingested_total",
				Help: "Validated chunks written to the vector store.",
			},
		)

		candidatesFound = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "veilleur_discovery_candidates_total",
				Help: "Candidate URLs produced by discovery.",
			},
		)

		consentDenialTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "veilleur_consent_denied_total",
				Help: "Candidates blocked by the consent gate.",
			},
		)
	})
}

// ObservePageFetched increments the page counter for host with an outcome.
func ObservePageFetched(host, outcome string) {
	if pagesFetchedTotal != nil {
		pagesFetchedTotal.WithLabelValues(host, outcome).Inc()
	}
}

// ObserveBytesFetched adds n to the byte counter for host.
func ObserveBytesFetched(host string, n int) {
	if bytesFetchedTotal != nil && n > 0 {
		bytesFetchedTotal.WithLabelValues(host).Add(float64(n))
	}
}

// ObserveRobotsDenied counts a robots exclusion denial.
func ObserveRobotsDenied() {
	if robotsDeniedTotal != nil {
		robotsDeniedTotal.Inc()
	}
}

// ObserveThrottleDelay records a throttle wait for host.
func ObserveThrottleDelay(host string, seconds float64) {
	if throttleDelay != nil && seconds > 0 {
		throttleDelay.WithLabelValues(host).Observe(seconds)
	}
}

// ObserveRun counts a finished run by terminal reason.
func ObserveRun(reason string) {
	if runsTotal != nil {
		if reason == "" {
			reason = "ok"
		}
		runsTotal.WithLabelValues(reason).Inc()
	}
}

// ObserveChunksIngested adds n to the ingested chunk counter.
func ObserveChunksIngested(n int) {
	if documentsIngested != nil && n > 0 {
		documentsIngested.Add(float64(n))
	}
}

// ObserveCandidates adds n to the discovery candidate counter.
func ObserveCandidates(n int) {
	if candidatesFound != nil && n > 0 {
		candidatesFound.Add(float64(n))
	}
}

// ObserveConsentDenied counts a consent gate denial.
func ObserveConsentDenied() {
	if consentDenialTotal != nil {
		consentDenialTotal.Inc()
	}
}
