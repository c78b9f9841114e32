package metrics

import (
	"strconv"

	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/prometheus/client_golang/prometheus"
)

var _ webhook.Observer = (*DeliveryMetrics)(nil)

// DeliveryMetrics counts outbound attempts and their latency
type DeliveryMetrics struct {
	Attempts *prometheus.CounterVec
	Latency  *prometheus.HistogramVec
}

func NewDeliveryMetrics() *DeliveryMetrics {
	return &DeliveryMetrics{
		Attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_delivery_attempts_total",
				Help: "Delivery attempts by event type, outcome and trigger",
			},
			[]string{"event_type", "outcome", "manual"}, // success|failure , true|false
		),
		Latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webhook_delivery_latency_seconds",
				Help:    "Latency of delivery attempts",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"},
		),
	}
}

func (m *DeliveryMetrics) MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		m.Attempts,
		m.Latency,
	)
}

// ObserveAttempt implements webhook.Observer
func (m *DeliveryMetrics) ObserveAttempt(_ string, eventType string, a webhook.Attempt) {
	outcome := "failure"
	if a.Succeeded() {
		outcome = "success"
	}
	m.Attempts.WithLabelValues(eventType, outcome, strconv.FormatBool(a.Manual)).Inc()
	m.Latency.WithLabelValues(outcome).Observe(float64(a.LatencyMs) / 1000)
}
