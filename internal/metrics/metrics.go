package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "medvik",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	bookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "medvik",
			Name:      "booking_transitions_total",
			Help:      "Booking status transitions by target status.",
		},
		[]string{"status"},
	)

	paymentCallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "medvik",
			Name:      "payment_callbacks_total",
			Help:      "Payment provider callbacks by outcome.",
		},
		[]string{"outcome"},
	)

	ledgerPostings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "medvik",
			Name:      "ledger_postings_total",
			Help:      "Balance postings by type.",
		},
		[]string{"type"},
	)

	reconciliationDiscrepancies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "medvik",
			Name:      "reconciliation_discrepancies_total",
			Help:      "Reconciliation discrepancies by scope.",
		},
		[]string{"scope"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			bookingTransitions,
			paymentCallbacks,
			ledgerPostings,
			reconciliationDiscrepancies,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// IncTransition counts a booking moving into the given status.
func IncTransition(status string) {
	bookingTransitions.WithLabelValues(status).Inc()
}

// IncCallback counts a payment callback outcome (completed, failed, duplicate).
func IncCallback(outcome string) {
	paymentCallbacks.WithLabelValues(outcome).Inc()
}

// IncPosting counts a balance posting by type.
func IncPosting(postingType string) {
	ledgerPostings.WithLabelValues(postingType).Inc()
}

// IncDiscrepancy counts a reconciliation discrepancy by scope.
func IncDiscrepancy(scope string) {
	reconciliationDiscrepancies.WithLabelValues(scope).Inc()
}
