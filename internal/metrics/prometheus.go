package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics implements Metrics with a zero-allocation hot path for
// the Check counters, backed by a dedicated registry so a deployment can
// run several engine instances without collector name collisions.
type PrometheusMetrics struct {
	checksAllow atomic.Uint64
	checksDeny  atomic.Uint64
	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64

	checksTotal      *prometheus.CounterVec
	cacheHitsTotal   prometheus.Counter
	cacheMissesTotal prometheus.Counter
	authErrors       *prometheus.CounterVec
	activeRequests   prometheus.Gauge
	checkDuration    prometheus.Histogram

	reloadsTotal    *prometheus.CounterVec
	reloadDuration  prometheus.Histogram
	healthy         prometheus.Gauge

	registry *prometheus.Registry
}

// NewPrometheusMetrics builds a fresh registry and the counters/histograms
// the Authorizer and Reloader report into.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	checksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "checks_total", Help: "Total number of authorization checks by effect"},
		[]string{"effect"},
	)
	cacheHitsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Subsystem: "cache", Name: "hits_total", Help: "Total number of decision cache hits"},
	)
	cacheMissesTotal := prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Subsystem: "cache", Name: "misses_total", Help: "Total number of decision cache misses"},
	)
	authErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "errors_total", Help: "Total number of authorization errors by type"},
		[]string{"type"},
	)
	activeRequests := prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Name: "active_requests", Help: "Number of in-flight Check calls"},
	)
	checkDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "check_duration_microseconds", Help: "Check latency in microseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 10000},
		},
	)
	reloadsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Subsystem: "reload", Name: "total", Help: "Total number of Reloader cycles by outcome"},
		[]string{"outcome"},
	)
	reloadDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "reload", Name: "duration_milliseconds", Help: "Reload cycle duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)
	healthy := prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Name: "healthy", Help: "1 if the last reload cycle succeeded, 0 otherwise"},
	)

	registry.MustRegister(checksTotal, cacheHitsTotal, cacheMissesTotal, authErrors,
		activeRequests, checkDuration, reloadsTotal, reloadDuration, healthy)

	healthy.Set(1)

	return &PrometheusMetrics{
		checksTotal:      checksTotal,
		cacheHitsTotal:   cacheHitsTotal,
		cacheMissesTotal: cacheMissesTotal,
		authErrors:       authErrors,
		activeRequests:   activeRequests,
		checkDuration:    checkDuration,
		reloadsTotal:     reloadsTotal,
		reloadDuration:   reloadDuration,
		healthy:          healthy,
		registry:         registry,
	}
}

func (p *PrometheusMetrics) RecordCheck(effect string, duration time.Duration) {
	if effect == "allow" {
		p.checksAllow.Add(1)
	} else {
		p.checksDeny.Add(1)
	}
	p.checksTotal.WithLabelValues(effect).Inc()
	p.checkDuration.Observe(float64(duration.Microseconds()))
}

func (p *PrometheusMetrics) RecordCacheHit() {
	p.cacheHits.Add(1)
	p.cacheHitsTotal.Inc()
}

func (p *PrometheusMetrics) RecordCacheMiss() {
	p.cacheMisses.Add(1)
	p.cacheMissesTotal.Inc()
}

func (p *PrometheusMetrics) RecordAuthError(errorType string) {
	p.authErrors.WithLabelValues(errorType).Inc()
}

func (p *PrometheusMetrics) IncActiveRequests() { p.activeRequests.Inc() }
func (p *PrometheusMetrics) DecActiveRequests() { p.activeRequests.Dec() }

func (p *PrometheusMetrics) RecordReload(outcome string, duration time.Duration) {
	p.reloadsTotal.WithLabelValues(outcome).Inc()
	p.reloadDuration.Observe(float64(duration.Milliseconds()))
}

func (p *PrometheusMetrics) SetHealthy(healthy bool) {
	if healthy {
		p.healthy.Set(1)
	} else {
		p.healthy.Set(0)
	}
}

func (p *PrometheusMetrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
