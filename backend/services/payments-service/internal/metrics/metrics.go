package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "payments"

// Metrics holds the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	balanceChecks    *prometheus.CounterVec
	oracleDuration   *prometheus.HistogramVec
	checkoutCalls    *prometheus.CounterVec
	checkoutDuration *prometheus.HistogramVec
	linkTransitions  *prometheus.CounterVec
	sessionEvents    *prometheus.CounterVec
	webhookEvents    *prometheus.CounterVec
	streamClients    prometheus.Gauge
}

// New registers collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		balanceChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "balance_checks_total",
			Help:      "Balance prechecks by chain and outcome",
		}, []string{"chain", "status"}),
		oracleDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_duration_seconds",
			Help:      "Duration of balance oracle lookups in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"chain"}),
		checkoutCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_calls_total",
			Help:      "Checkout provider calls by operation and outcome",
		}, []string{"operation", "outcome"}),
		checkoutDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkout_duration_seconds",
			Help:      "Duration of checkout provider calls in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"operation"}),
		linkTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_link_transitions_total",
			Help:      "Payment link status changes by target status",
		}, []string{"status"}),
		sessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Charging session lifecycle events",
		}, []string{"event"}),
		webhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Webhook deliveries by event type and outcome",
		}, []string{"type", "outcome"}),
		streamClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_clients",
			Help:      "Connected payment status stream clients",
		}),
	}
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) BalanceCheck(chain, status string) {
	if m == nil {
		return
	}
	m.balanceChecks.WithLabelValues(chain, status).Inc()
}

func (m *Metrics) OracleDuration(chain string, d time.Duration) {
	if m == nil {
		return
	}
	m.oracleDuration.WithLabelValues(chain).Observe(d.Seconds())
}

// CheckoutCall records one provider call including its retries.
func (m *Metrics) CheckoutCall(operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.checkoutCalls.WithLabelValues(operation, outcome).Inc()
	m.checkoutDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) LinkTransition(status string) {
	if m == nil {
		return
	}
	m.linkTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) SessionEvent(event string) {
	if m == nil {
		return
	}
	m.sessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) WebhookEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) StreamClients(delta float64) {
	if m == nil {
		return
	}
	m.streamClients.Add(delta)
}
