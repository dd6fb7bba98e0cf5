// Package metrics holds the Prometheus collectors for the fetch/refresh
// pipelines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Refresh reasons.
const (
	ReasonMiss   = "miss"
	ReasonStale  = "stale"
	ReasonForced = "forced"
)

// Metrics groups the pipeline collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	fetchTotal    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	refreshTotal  *prometheus.CounterVec
	cacheEvents   *prometheus.GaugeVec
	staleServed   *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kpopcal",
			Name:      "fetch_total",
			Help:      "Upstream fetches by category and status",
		}, []string{"category", "status"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kpopcal",
			Name:      "fetch_duration_seconds",
			Help:      "Time spent fetching an upstream list",
			Buckets:   prometheus.DefBuckets,
		}, []string{"category"}),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kpopcal",
			Name:      "refresh_total",
			Help:      "Cache refreshes by category and reason (miss, stale, forced)",
		}, []string{"category", "reason"}),
		cacheEvents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kpopcal",
			Name:      "cache_events",
			Help:      "Number of events in the last list read from the cache",
		}, []string{"category"}),
		staleServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kpopcal",
			Name:      "stale_served_total",
			Help:      "Times a stale list was served because the refresh failed",
		}, []string{"category"}),
	}
	if reg != nil {
		reg.MustRegister(m.fetchTotal, m.fetchDuration, m.refreshTotal, m.cacheEvents, m.staleServed)
	}
	return m
}

func (m *Metrics) ObserveFetch(category string, seconds float64, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.fetchTotal.WithLabelValues(category, status).Inc()
	m.fetchDuration.WithLabelValues(category).Observe(seconds)
}

func (m *Metrics) IncRefresh(category, reason string) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(category, reason).Inc()
}

func (m *Metrics) SetCacheEvents(category string, n int) {
	if m == nil {
		return
	}
	m.cacheEvents.WithLabelValues(category).Set(float64(n))
}

func (m *Metrics) IncStaleServed(category string) {
	if m == nil {
		return
	}
	m.staleServed.WithLabelValues(category).Inc()
}

// FetchCount returns the fetch counter for tests and debug output.
func (m *Metrics) FetchCount(category, status string) prometheus.Counter {
	return m.fetchTotal.WithLabelValues(category, status)
}

// RefreshCount returns the refresh counter for tests and debug output.
func (m *Metrics) RefreshCount(category, reason string) prometheus.Counter {
	return m.refreshTotal.WithLabelValues(category, reason)
}
