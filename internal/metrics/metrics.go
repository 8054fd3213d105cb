// Package metrics exposes Prometheus collectors for the HTTP surface and the
// matching engine. All recording methods are safe on a nil *Metrics
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xtrntr/spotex/internal/models"
)

// Metrics holds the registered collectors
type Metrics struct {
	registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpResponseTime *prometheus.HistogramVec

	ordersCreated      *prometheus.CounterVec
	ordersCancelled    prometheus.Counter
	matchesResolved    prometheus.Counter
	matchPassesEmpty   prometheus.Counter
	settlementFailures prometheus.Counter
	tradedBTC          prometheus.Counter
	activeSessions     prometheus.Gauge
}

// New registers every collector on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpResponseTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_time_seconds",
			Help:    "HTTP response time in seconds",
			Buckets: []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10},
		}, []string{"method", "path", "status"}),
		ordersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Orders accepted, by side",
		}, []string{"side"}),
		ordersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orders_cancelled_total",
			Help: "Orders cancelled",
		}),
		matchesResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matches_resolved_total",
			Help: "Matching passes that executed a trade",
		}),
		matchPassesEmpty: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "match_passes_empty_total",
			Help: "Matching passes that found no trade to execute",
		}),
		settlementFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_failures_total",
			Help: "Matching passes rolled back with an error",
		}),
		tradedBTC: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "traded_btc_total",
			Help: "BTC volume executed",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "websocket_sessions",
			Help: "Connected notification sessions",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpResponseTime,
		m.ordersCreated, m.ordersCancelled,
		m.matchesResolved, m.matchPassesEmpty, m.settlementFailures, m.tradedBTC,
		m.activeSessions,
	)
	return m
}

// Registry exposes the registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request count and latency labelled by route pattern
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		labels := []string{r.Method, path, strconv.Itoa(status)}
		m.httpRequests.WithLabelValues(labels...).Inc()
		m.httpResponseTime.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) OrderCreated(side models.Side) {
	if m == nil {
		return
	}
	m.ordersCreated.WithLabelValues(string(side)).Inc()
}

func (m *Metrics) OrderCancelled() {
	if m == nil {
		return
	}
	m.ordersCancelled.Inc()
}

// MatchResolved records an executed trade of amount BTC
func (m *Metrics) MatchResolved(amount float64) {
	if m == nil {
		return
	}
	m.matchesResolved.Inc()
	m.tradedBTC.Add(amount)
}

func (m *Metrics) MatchPassEmpty() {
	if m == nil {
		return
	}
	m.matchPassesEmpty.Inc()
}

func (m *Metrics) SettlementFailed() {
	if m == nil {
		return
	}
	m.settlementFailures.Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}
