// Package metrics exposes Prometheus instrumentation for the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the Prometheus registry and every collector the service
// records into. All record methods are nil-safe so tests can pass a nil
// *Metrics and skip instrumentation entirely.
type Metrics struct {
	registry *prometheus.Registry

	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	cachePartialHits prometheus.Counter
	cacheEvictions   prometheus.Counter

	providerLoads    *prometheus.CounterVec
	fetchDuration    *prometheus.HistogramVec
	regimeDetections *prometheus.CounterVec
	contextRequests  prometheus.Counter
	httpRequests     *prometheus.CounterVec
	streamConnected  prometheus.Gauge
	watchlistSize    prometheus.Gauge
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skopos_cache_hits_total",
			Help: "Full cache hits served without adapter calls",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skopos_cache_misses_total",
			Help: "Cache lookups that found no usable bars",
		}),
		cachePartialHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skopos_cache_partial_hits_total",
			Help: "Cache lookups that needed an adapter top-up",
		}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skopos_cache_evictions_total",
			Help: "Bars evicted from cache segments",
		}),
		providerLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skopos_provider_loads_total",
			Help: "OHLCV loads by cache provenance and source",
		}, []string{"from_cache", "source"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "skopos_provider_fetch_duration_seconds",
			Help:    "Adapter fetch latency by source",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		regimeDetections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skopos_regime_detections_total",
			Help: "Regime detections by resulting regime",
		}, []string{"regime"}),
		contextRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skopos_context_requests_total",
			Help: "Multi-timeframe context analyses",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skopos_http_requests_total",
			Help: "HTTP requests by method, route and status class",
		}, []string{"method", "route", "status"}),
		streamConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "skopos_stream_connected",
			Help: "1 while the kline websocket stream is connected",
		}),
		watchlistSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "skopos_watchlist_size",
			Help: "Symbols on the warmup watchlist",
		}),
	}

	m.registry.MustRegister(
		m.cacheHits, m.cacheMisses, m.cachePartialHits, m.cacheEvictions,
		m.providerLoads, m.fetchDuration, m.regimeDetections,
		m.contextRequests, m.httpRequests, m.streamConnected, m.watchlistSize,
	)
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCacheHit counts a full cache hit.
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// RecordCacheMiss counts a cache miss.
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

// RecordCachePartialHit counts a partial cache hit.
func (m *Metrics) RecordCachePartialHit() {
	if m == nil {
		return
	}
	m.cachePartialHits.Inc()
}

// RecordCacheEvictions counts n evicted bars.
func (m *Metrics) RecordCacheEvictions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cacheEvictions.Add(float64(n))
}

// RecordProviderLoad counts one completed OHLCV load.
func (m *Metrics) RecordProviderLoad(fromCache, source string) {
	if m == nil {
		return
	}
	m.providerLoads.WithLabelValues(fromCache, source).Inc()
}

// ObserveFetchDuration records one adapter round-trip.
func (m *Metrics) ObserveFetchDuration(source string, seconds float64) {
	if m == nil {
		return
	}
	m.fetchDuration.WithLabelValues(source).Observe(seconds)
}

// RecordRegimeDetection counts one detection by outcome.
func (m *Metrics) RecordRegimeDetection(regime string) {
	if m == nil {
		return
	}
	m.regimeDetections.WithLabelValues(regime).Inc()
}

// RecordContextRequest counts one multi-timeframe analysis.
func (m *Metrics) RecordContextRequest() {
	if m == nil {
		return
	}
	m.contextRequests.Inc()
}

// RecordHTTPRequest counts one served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route, status string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
}

// SetStreamConnected flags the websocket stream state.
func (m *Metrics) SetStreamConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.streamConnected.Set(1)
	} else {
		m.streamConnected.Set(0)
	}
}

// SetWatchlistSize records how many entries the warmup watchlist carries.
func (m *Metrics) SetWatchlistSize(n int) {
	if m == nil {
		return
	}
	m.watchlistSize.Set(float64(n))
}
