// Package metrics exposes Prometheus collectors for the orchestration core.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "school_events"

type Metrics struct {
	registry      *prometheus.Registry
	registrations *prometheus.CounterVec
	payments      *prometheus.CounterVec
	gatewayCalls  *prometheus.CounterVec
	logins        *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	dispatchTime  prometheus.Histogram
}

// New registers every collector on reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		registrations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Registration attempts by outcome.",
		}, []string{"outcome"}),
		payments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_transitions_total",
			Help:      "Payment status transitions.",
		}, []string{"from", "to"}),
		gatewayCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_calls_total",
			Help:      "Payment gateway calls by operation and result.",
		}, []string{"operation", "result"}),
		logins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Authentication attempts by outcome.",
		}, []string{"outcome"}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_deliveries_total",
			Help:      "Notification channel attempts by channel and status.",
		}, []string{"channel", "status"}),
		dispatchTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notification_dispatch_seconds",
			Help:      "Time to fan a notification out to every channel.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registration(outcome string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PaymentTransition(from, to string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(from, to).Inc()
}

func (m *Metrics) GatewayCall(operation, result string) {
	if m == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) Login(outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Delivery(channel, status string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(channel, status).Inc()
}

func (m *Metrics) ObserveDispatch(seconds float64) {
	if m == nil {
		return
	}
	m.dispatchTime.Observe(seconds)
}
