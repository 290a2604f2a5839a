package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BookingMetrics records allocator outcomes and ledger contention.
type BookingMetrics struct {
	outcomes  *prometheus.CounterVec
	conflicts prometheus.Counter
	attempts  prometheus.Histogram
	reconcile *prometheus.CounterVec
}

// NewBookingMetrics registers the booking metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	if reg == nil {
		return &BookingMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tourbooking_booking_outcomes_total",
		Help: "Booking requests by outcome kind and reason.",
	}, []string{"kind", "reason"})
	conflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tourbooking_ledger_conflicts_total",
		Help: "Conditional capacity writes that lost a race.",
	})
	attempts := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tourbooking_booking_attempts",
		Help:    "Capacity check attempts used per booking request.",
		Buckets: []float64{1, 2, 3, 4, 5},
	})
	reconcile := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tourbooking_reconciled_bookings_total",
		Help: "Flagged bookings processed by reconciliation, by result.",
	}, []string{"result"})
	reg.MustRegister(outcomes, conflicts, attempts, reconcile)
	return &BookingMetrics{
		outcomes:  outcomes,
		conflicts: conflicts,
		attempts:  attempts,
		reconcile: reconcile,
	}
}

// IncOutcome counts one finished booking request.
func (m *BookingMetrics) IncOutcome(kind, reason string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(kind), normalizeLabel(reason)).Inc()
}

func (m *BookingMetrics) IncConflict() {
	if m == nil || m.conflicts == nil {
		return
	}
	m.conflicts.Inc()
}

func (m *BookingMetrics) ObserveAttempts(n int) {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.Observe(float64(n))
}

// IncReconciled counts one reconciled booking; result is applied, voided or failed.
func (m *BookingMetrics) IncReconciled(result string) {
	if m == nil || m.reconcile == nil {
		return
	}
	m.reconcile.WithLabelValues(normalizeLabel(result)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "none"
	}
	return v
}
