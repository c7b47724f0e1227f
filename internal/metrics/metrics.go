// Package metrics exposes Prometheus collectors for the matching service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/matchscore/internal/analysis"
	"github.com/sells-group/matchscore/internal/cache"
	"github.com/sells-group/matchscore/internal/resilience"
	"github.com/sells-group/matchscore/internal/scorer"
)

const namespace = "matchscore"

// Metrics owns a private registry and every collector the service reports.
type Metrics struct {
	registry *prometheus.Registry

	cacheLookups        *prometheus.CounterVec
	artifactTransitions *prometheus.CounterVec
	artifactsProcessing *prometheus.GaugeVec
	scores              *prometheus.HistogramVec
	confidence          prometheus.Histogram
	breakerState        *prometheus.GaugeVec
	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
}

// New registers all collectors, plus the Go runtime and process collectors,
// on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Result cache lookups by outcome.",
		}, []string{"cache", "outcome"}),
		artifactTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "transitions_total",
			Help:      "Analysis artifact state transitions.",
		}, []string{"artifact", "from", "to"}),
		artifactsProcessing: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "processing",
			Help:      "Artifacts currently being polled.",
		}, []string{"artifact"}),
		scores: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "overall_score",
			Help:      "Overall match scores computed.",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		}, []string{"rating"}),
		confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "confidence",
			Help:      "Confidence of computed scores.",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per upstream (0 closed, 1 open, 2 half-open).",
		}, []string{"service"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace}),
		m.cacheLookups,
		m.artifactTransitions,
		m.artifactsProcessing,
		m.scores,
		m.confidence,
		m.breakerState,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Cache returns a cache.Observer that labels lookups with name.
func (m *Metrics) Cache(name string) cache.Observer {
	return cacheObserver{m: m, name: name}
}

type cacheObserver struct {
	m    *Metrics
	name string
}

func (o cacheObserver) ObserveLookup(outcome string) {
	o.m.cacheLookups.WithLabelValues(o.name, outcome).Inc()
}

// ObserveTransition implements analysis.Observer.
func (m *Metrics) ObserveTransition(_ string, t analysis.Type, from, to analysis.State) {
	m.artifactTransitions.WithLabelValues(string(t), string(from), string(to)).Inc()
	if to == analysis.StateProcessing && from != analysis.StateProcessing {
		m.artifactsProcessing.WithLabelValues(string(t)).Inc()
	}
	if from == analysis.StateProcessing && to != analysis.StateProcessing {
		m.artifactsProcessing.WithLabelValues(string(t)).Dec()
	}
}

// ObserveScore records a computed score.
func (m *Metrics) ObserveScore(s scorer.MatchScore) {
	m.scores.WithLabelValues(s.Rating).Observe(float64(s.OverallScore))
	m.confidence.Observe(float64(s.Confidence))
}

// BreakerHook returns a resilience.StateHook that tracks breaker state.
func (m *Metrics) BreakerHook() resilience.StateHook {
	return func(name string, _, to resilience.BreakerState) {
		m.breakerState.WithLabelValues(name).Set(float64(to))
	}
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
