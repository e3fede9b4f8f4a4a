package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/model"
)

// BookingMetrics exposes booking outcomes, status transitions, transaction
// retries and outbox throughput.
type BookingMetrics struct {
	bookingsTotal    *prometheus.CounterVec
	bookingLatency   *prometheus.HistogramVec
	transitionsTotal *prometheus.CounterVec
	txRetriesTotal   *prometheus.CounterVec
	outboxPublished  prometheus.Counter
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "furryfriends",
			Subsystem: "booking",
			Name:      "requests_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		bookingLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "furryfriends",
			Subsystem: "booking",
			Name:      "request_duration_seconds",
			Help:      "Time to decide a booking request, including retries",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "furryfriends",
			Subsystem: "booking",
			Name:      "transitions_total",
			Help:      "Reservation status transitions by target status and outcome",
		}, []string{"to", "outcome"}),
		txRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "furryfriends",
			Subsystem: "booking",
			Name:      "tx_retries_total",
			Help:      "Transactions retried after a serialization failure or deadlock",
		}, []string{"op"}),
		outboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "furryfriends",
			Subsystem: "booking",
			Name:      "outbox_published_total",
			Help:      "Outbox events written to Kafka",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.bookingLatency, m.transitionsTotal, m.txRetriesTotal, m.outboxPublished)
	return m
}

func (m *BookingMetrics) ObserveBooking(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
	m.bookingLatency.WithLabelValues(outcome).Observe(seconds)
}

func (m *BookingMetrics) ObserveTransition(to model.Status, outcome string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(string(to), outcome).Inc()
}

func (m *BookingMetrics) ObserveRetry(op string) {
	if m == nil {
		return
	}
	m.txRetriesTotal.WithLabelValues(op).Inc()
}

func (m *BookingMetrics) ObserveOutboxPublished(n int) {
	if m == nil {
		return
	}
	m.outboxPublished.Add(float64(n))
}
