// Package metrics exposes AShareInsight's Prometheus collectors: request
// latency, cache effectiveness, circuit breaker trips and fusion outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashareinsight/ashareinsight/internal/cache"
)

// Registry wraps a dedicated Prometheus registry so /metrics never mixes in
// the default global collectors of imported libraries.
type Registry struct {
	reg *prometheus.Registry

	RequestDuration *prometheus.HistogramVec
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	CacheSize       prometheus.Gauge
	BreakerTrips    *prometheus.CounterVec
	FusionOutcomes  *prometheus.CounterVec
	VectorizeBatch  *prometheus.CounterVec
}

// New registers every AShareInsight collector against a fresh registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ashareinsight_request_duration_seconds",
			Help:    "HTTP request latency in seconds, by route and status class.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "ashareinsight_cache_hits_total",
			Help: "Retrieval result-cache hits.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "ashareinsight_cache_misses_total",
			Help: "Retrieval result-cache misses.",
		}),
		CacheSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ashareinsight_cache_size",
			Help: "Current number of entries resident in the retrieval result cache.",
		}),
		BreakerTrips: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ashareinsight_circuit_breaker_trips_total",
			Help: "Circuit breaker transitions into the open state, by dependency.",
		}, []string{"dependency"}),
		FusionOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ashareinsight_fusion_outcomes_total",
			Help: "Fusion results by outcome: inserted, updated, failed.",
		}, []string{"outcome"}),
		VectorizeBatch: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ashareinsight_vectorize_concepts_total",
			Help: "Concepts processed by vectorization, by result.",
		}, []string{"result"}),
	}
}

// Handler returns the /metrics HTTP handler for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ObserveCacheStats mirrors a cache.Stats snapshot onto the gauge/counters;
// hits/misses are cumulative counters so only the delta since the last
// observation is added.
func (r *Registry) ObserveCacheStats(prev, cur cache.Stats) {
	if d := cur.Hits - prev.Hits; d > 0 {
		r.CacheHits.Add(float64(d))
	}
	if d := cur.Misses - prev.Misses; d > 0 {
		r.CacheMisses.Add(float64(d))
	}
	r.CacheSize.Set(float64(cur.Size))
}
