// Package prom implements the observability hooks with Prometheus metrics.
//
//	reg := prometheus.NewRegistry()
//	m := prom.New(reg)
//	m.Install()
//	http.Handle("/metrics", m.Handler())
package prom

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leanspace/flowboard/pkg/observability"
)

const namespace = "flowboard"

// Metrics holds every collector and implements all hook interfaces.
type Metrics struct {
	reg prometheus.Gatherer

	rebuilds  prometheus.Counter
	particles prometheus.Gauge
	dropped   prometheus.Counter
	settles   prometheus.Histogram
	reconcile prometheus.Counter
	drags     *prometheus.CounterVec

	enqueued prometheus.Counter
	writes   *prometheus.CounterVec
	written  prometheus.Counter
	writeDur prometheus.Histogram
	retries  prometheus.Counter

	cache     *prometheus.CounterVec
	cacheSize *prometheus.CounterVec

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	_ observability.LayoutHooks  = (*Metrics)(nil)
	_ observability.PersistHooks = (*Metrics)(nil)
	_ observability.CacheHooks   = (*Metrics)(nil)
	_ observability.HTTPHooks    = (*Metrics)(nil)
)

// New creates the collectors and registers them with reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		reg:       reg,
		rebuilds:  counter("layout", "rebuilds_total", "Simulation instances built after a structural change."),
		particles: gauge("layout", "particles", "Particles in the current simulation."),
		dropped:   counter("layout", "dropped_links_total", "Links dropped at build time for a missing endpoint."),
		settles:   histogram("layout", "settle_ticks", "Ticks a simulation ran before cooling.", prometheus.ExponentialBuckets(25, 2, 8)),
		reconcile: counter("layout", "reconciled_positions_total", "Positions written back to the store after ticks."),
		drags:     counterVec("layout", "drag_events_total", "Drag protocol calls by phase.", "phase"),

		enqueued: counter("persist", "enqueued_positions_total", "Position updates accepted by the batcher."),
		writes:   counterVec("persist", "writes_total", "Batched position writes by result.", "result"),
		written:  counter("persist", "written_positions_total", "Positions in successful batched writes."),
		writeDur: histogram("persist", "write_duration_seconds", "Duration of batched position writes, including retries.", prometheus.DefBuckets),
		retries:  counter("persist", "retries_total", "Retryable write failures that were retried."),

		cache:     counterVec("cache", "lookups_total", "Cache lookups by key type and result.", "key_type", "result"),
		cacheSize: counterVec("cache", "written_bytes_total", "Bytes written to the cache by key type.", "key_type"),

		requests: counterVec("http", "requests_total", "HTTP requests by method, route and status code.", "method", "route", "code"),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		m.rebuilds, m.particles, m.dropped, m.settles, m.reconcile, m.drags,
		m.enqueued, m.writes, m.written, m.writeDur, m.retries,
		m.cache, m.cacheSize,
		m.requests, m.latency,
	)
	return m
}

func counter(subsystem, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help})
}

func counterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
}

func gauge(subsystem, name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help})
}

func histogram(subsystem, name, help string, buckets []float64) prometheus.Histogram {
	return prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets})
}

// Install registers m as every global hook.
func (m *Metrics) Install() {
	observability.SetLayoutHooks(m)
	observability.SetPersistHooks(m)
	observability.SetCacheHooks(m)
	observability.SetHTTPHooks(m)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) OnRebuild(_ context.Context, particles, _, dropped int) {
	m.rebuilds.Inc()
	m.particles.Set(float64(particles))
	m.dropped.Add(float64(dropped))
}

func (m *Metrics) OnSettled(_ context.Context, ticks int, _ time.Duration) {
	m.settles.Observe(float64(ticks))
}

func (m *Metrics) OnReconcile(_ context.Context, moved int) {
	m.reconcile.Add(float64(moved))
}

func (m *Metrics) OnDrag(_ context.Context, phase string) {
	m.drags.WithLabelValues(phase).Inc()
}

func (m *Metrics) OnEnqueue(_ context.Context, n int) {
	m.enqueued.Add(float64(n))
}

func (m *Metrics) OnWrite(_ context.Context, n int, d time.Duration, err error) {
	m.writeDur.Observe(d.Seconds())
	if err != nil {
		m.writes.WithLabelValues("error").Inc()
		return
	}
	m.writes.WithLabelValues("ok").Inc()
	m.written.Add(float64(n))
}

func (m *Metrics) OnRetry(context.Context, int, error) {
	m.retries.Inc()
}

func (m *Metrics) OnCacheHit(_ context.Context, keyType string) {
	m.cache.WithLabelValues(keyType, "hit").Inc()
}

func (m *Metrics) OnCacheMiss(_ context.Context, keyType string) {
	m.cache.WithLabelValues(keyType, "miss").Inc()
}

func (m *Metrics) OnCacheSet(_ context.Context, keyType string, size int) {
	m.cacheSize.WithLabelValues(keyType).Add(float64(size))
}

func (m *Metrics) OnResponse(_ context.Context, method, route string, code int, d time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.latency.WithLabelValues(method, route).Observe(d.Seconds())
}
