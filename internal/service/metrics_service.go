package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the billing
// engine: HTTP traffic, cache behaviour and the domain counters the ops
// dashboards watch (entitlement applications, sweeps, makeup bookings).
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	entitlementsApplied *prometheus.CounterVec
	sweepRuns           *prometheus.CounterVec
	sweepRecomputed     prometheus.Counter
	bookings            *prometheus.CounterVec
	creditEvents        *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	entitlementsApplied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "entitlement_applications_total",
		Help: "Paid invoices processed by the entitlement applier",
	}, []string{"outcome"})

	sweepRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coverage_sweep_runs_total",
		Help: "Recompute sweep executions",
	}, []string{"trigger"})

	sweepRecomputed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coverage_sweep_enrolments_total",
		Help: "Enrolments recomputed by the sweep",
	})

	bookings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "makeup_bookings_total",
		Help: "Makeup booking attempts by result",
	}, []string{"result"})

	creditEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "credit_events_total",
		Help: "Credit ledger events appended by type",
	}, []string{"type"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheHits, cacheMisses,
		entitlementsApplied, sweepRuns, sweepRecomputed, bookings, creditEvents, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:            registry,
		handler:             handler,
		requestDuration:     requestDuration,
		requestTotal:        requestTotal,
		cacheHits:           cacheHits,
		cacheMisses:         cacheMisses,
		entitlementsApplied: entitlementsApplied,
		sweepRuns:           sweepRuns,
		sweepRecomputed:     sweepRecomputed,
		bookings:            bookings,
		creditEvents:        creditEvents,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records a cache hit or miss.
func (m *MetricsService) RecordCacheOperation(hit bool, _ time.Duration) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// RecordEntitlementApplication counts one applier run.
func (m *MetricsService) RecordEntitlementApplication(outcome string) {
	if m == nil {
		return
	}
	m.entitlementsApplied.WithLabelValues(outcome).Inc()
}

// RecordSweep counts one sweep run and the enrolments it recomputed.
func (m *MetricsService) RecordSweep(trigger string, recomputed int) {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues(trigger).Inc()
	m.sweepRecomputed.Add(float64(recomputed))
}

// RecordBooking counts one makeup booking attempt.
func (m *MetricsService) RecordBooking(result string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(result).Inc()
}

// RecordCreditEvent counts one ledger append.
func (m *MetricsService) RecordCreditEvent(eventType string) {
	if m == nil {
		return
	}
	m.creditEvents.WithLabelValues(eventType).Inc()
}
