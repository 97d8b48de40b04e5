// Package metrics holds the Prometheus collectors shared by the engine and its binaries.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector the engine reports. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	quoteRequests   *prometheus.CounterVec
	quoteDuration   *prometheus.HistogramVec
	priceRefreshes  *prometheus.CounterVec
	swapExecutions  *prometheus.CounterVec
	approvalsSent   prometheus.Counter
	circuitBreaker  *prometheus.GaugeVec
	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		quoteRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swap_quote_requests_total",
				Help: "Quote requests sent to routing endpoints",
			},
			[]string{"status"},
		),
		quoteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "swap_quote_duration_seconds",
				Help:    "Quote request duration in seconds, retries included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		priceRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swap_price_refreshes_total",
				Help: "Price list and currency rate refreshes",
			},
			[]string{"kind", "status"},
		),
		swapExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swap_executions_total",
				Help: "Swap executions by intent and outcome",
			},
			[]string{"intent", "outcome"},
		),
		approvalsSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "swap_approvals_sent_total",
				Help: "Unlimited token approvals sent before a swap",
			},
		),
		circuitBreaker: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "swap_circuit_breaker_state",
				Help: "Routing endpoint circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"endpoint"},
		),
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swap_http_requests_total",
				Help: "HTTP API requests processed",
			},
			[]string{"route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "swap_http_request_duration_seconds",
				Help:    "HTTP API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}

	reg.MustRegister(
		m.quoteRequests,
		m.quoteDuration,
		m.priceRefreshes,
		m.swapExecutions,
		m.approvalsSent,
		m.circuitBreaker,
		m.requestCounter,
		m.requestDuration,
	)

	return m
}

// ObserveQuote records one quote request
func (m *Metrics) ObserveQuote(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.quoteRequests.WithLabelValues(status).Inc()
	m.quoteDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

// PriceRefresh records a price list ("prices") or currency ("currency") refresh
func (m *Metrics) PriceRefresh(kind, status string) {
	if m == nil {
		return
	}
	m.priceRefreshes.WithLabelValues(kind, status).Inc()
}

// SwapExecuted records the final outcome of one execution
func (m *Metrics) SwapExecuted(intent, outcome string) {
	if m == nil {
		return
	}
	m.swapExecutions.WithLabelValues(intent, outcome).Inc()
}

// ApprovalSent records an approval transaction
func (m *Metrics) ApprovalSent() {
	if m == nil {
		return
	}
	m.approvalsSent.Inc()
}

// CircuitState records the breaker state of an endpoint
func (m *Metrics) CircuitState(endpoint string, state int) {
	if m == nil {
		return
	}
	m.circuitBreaker.WithLabelValues(endpoint).Set(float64(state))
}

// ObserveRequest records one HTTP API request
func (m *Metrics) ObserveRequest(route, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestCounter.WithLabelValues(route, status).Inc()
	m.requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
