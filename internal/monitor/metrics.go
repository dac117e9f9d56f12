package monitor

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the relay.
type Metrics struct {
	registry *prometheus.Registry

	CyclesTotal      *prometheus.CounterVec // labels: strategy
	DecisionsTotal   *prometheus.CounterVec // labels: decision
	OrdersDispatched prometheus.Counter
	OrdersClosed     prometheus.Counter
	AgentErrors      *prometheus.CounterVec // labels: op
	CycleDuration    prometheus.Histogram
	ActiveSessions   prometheus.Gauge
	APIRequests      *prometheus.CounterVec // labels: method, status
}

// NewMetrics registers and returns all relay metrics on a private
// registry so tests can create instances freely.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_cycles_total",
			Help: "Polling cycles executed (by strategy)",
		}, []string{"strategy"}),
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_decisions_total",
			Help: "Strategy decisions emitted (BUY/SELL/HOLD)",
		}, []string{"decision"}),
		OrdersDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_orders_dispatched_total",
			Help: "Orders successfully dispatched to slave terminals",
		}),
		OrdersClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_orders_closed_total",
			Help: "Slave positions closed by the relay",
		}),
		AgentErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_agent_errors_total",
			Help: "Terminal agent call failures (by operation)",
		}, []string{"op"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_cycle_duration_seconds",
			Help:    "Wall time per polling cycle",
			Buckets: prometheus.DefBuckets,
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_sessions",
			Help: "Trader sessions currently polling",
		}),
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_api_requests_total",
			Help: "HTTP API requests (by method and status class)",
		}, []string{"method", "status"}),
	}

	m.registry.MustRegister(
		m.CyclesTotal,
		m.DecisionsTotal,
		m.OrdersDispatched,
		m.OrdersClosed,
		m.AgentErrors,
		m.CycleDuration,
		m.ActiveSessions,
		m.APIRequests,
	)

	return m
}

// Handler exposes the private registry for GET /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCycle records one completed polling cycle.
func (m *Metrics) ObserveCycle(strategy string, d time.Duration) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(strategy).Inc()
	m.CycleDuration.Observe(d.Seconds())
}

// RecordDecision counts one emitted decision.
func (m *Metrics) RecordDecision(decision string) {
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(decision).Inc()
}

// RecordAgentError counts one failed terminal agent call.
func (m *Metrics) RecordAgentError(op string) {
	if m == nil {
		return
	}
	m.AgentErrors.WithLabelValues(op).Inc()
}

// RecordDispatch counts one dispatched slave order.
func (m *Metrics) RecordDispatch() {
	if m == nil {
		return
	}
	m.OrdersDispatched.Inc()
}

// RecordClose counts one closed slave position.
func (m *Metrics) RecordClose() {
	if m == nil {
		return
	}
	m.OrdersClosed.Inc()
}

// SetActiveSessions publishes the current session count.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// RecordAPIRequest counts one HTTP API request.
func (m *Metrics) RecordAPIRequest(method string, status int) {
	if m == nil {
		return
	}
	m.APIRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}
