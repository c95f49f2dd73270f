// Package observability collects Prometheus metrics for the application.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates the Prometheus registry and instruments.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	settlementsTotal   *prometheus.CounterVec
	fanoutFailures     prometheus.Counter
	receivableFailures prometheus.Counter
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mercurio_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mercurio_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mercurio_settlements_total",
		Help: "Sale settlements by outcome.",
	}, []string{"outcome"})
	fanoutFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mercurio_settlement_fanout_failures_total",
		Help: "Inventory fan-out failures absorbed after a committed sale.",
	})
	receivableFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mercurio_settlement_receivable_failures_total",
		Help: "Receivable creation failures absorbed after a committed sale.",
	})
	registry.MustRegister(requests, duration, settlements, fanoutFailures, receivableFailures)
	return &Metrics{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:      requests,
		requestDuration:    duration,
		settlementsTotal:   settlements,
		fanoutFailures:     fanoutFailures,
		receivableFailures: receivableFailures,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveSettlement counts a settlement outcome ("settled", "degraded",
// "failed").
func (m *Metrics) ObserveSettlement(outcome string) {
	if m == nil {
		return
	}
	m.settlementsTotal.WithLabelValues(outcome).Inc()
}

// ObserveFanoutFailure counts an absorbed inventory fan-out failure.
func (m *Metrics) ObserveFanoutFailure() {
	if m == nil {
		return
	}
	m.fanoutFailures.Inc()
}

// ObserveReceivableFailure counts an absorbed receivable creation failure.
func (m *Metrics) ObserveReceivableFailure() {
	if m == nil {
		return
	}
	m.receivableFailures.Inc()
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
