package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PollAttemptsTotal counts confirmation poll attempts by result.
	PollAttemptsTotal *prometheus.CounterVec
	// CheckoutSessionsTotal counts checkout sessions reaching a state.
	CheckoutSessionsTotal *prometheus.CounterVec
	// CheckoutSessionDuration records how long sessions polled before ending.
	CheckoutSessionDuration *prometheus.HistogramVec
	// QRDerivationsTotal counts QR derivations by the tier that produced them.
	QRDerivationsTotal *prometheus.CounterVec
	// BookingCacheTotal counts booking detail cache lookups.
	BookingCacheTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PollAttemptsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_attempts_total",
			Help:      "Count of payment confirmation poll attempts by result.",
		}, []string{"result"}))
		CheckoutSessionsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_sessions_total",
			Help:      "Count of checkout sessions by reached state.",
		}, []string{"state"}))
		CheckoutSessionDuration = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkout_session_duration_seconds",
			Help:      "Time from polling start to a terminal state.",
			Buckets:   []float64{4, 8, 15, 30, 60, 90, 120, 180, 300},
		}, []string{"state"}))
		QRDerivationsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qr_derivations_total",
			Help:      "Count of QR derivations by source tier.",
		}, []string{"source"}))
		BookingCacheTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_cache_total",
			Help:      "Booking detail cache lookups by result.",
		}, []string{"result"}))
	})
}

// ObservePollAttempt records one poll attempt when domain metrics are registered.
func ObservePollAttempt(result string) {
	if PollAttemptsTotal != nil {
		PollAttemptsTotal.WithLabelValues(result).Inc()
	}
}

// ObserveQRDerivation records the tier a QR image came from.
func ObserveQRDerivation(source string) {
	if source == "" {
		source = "none"
	}
	if QRDerivationsTotal != nil {
		QRDerivationsTotal.WithLabelValues(source).Inc()
	}
}

// ObserveBookingCache records a booking cache hit or miss.
func ObserveBookingCache(result string) {
	if BookingCacheTotal != nil {
		BookingCacheTotal.WithLabelValues(result).Inc()
	}
}

// ObserveSessionState records a session reaching state after elapsedSeconds.
// A negative elapsed value skips the duration histogram.
func ObserveSessionState(state string, elapsedSeconds float64) {
	if CheckoutSessionsTotal != nil {
		CheckoutSessionsTotal.WithLabelValues(state).Inc()
	}
	if CheckoutSessionDuration != nil && elapsedSeconds >= 0 {
		CheckoutSessionDuration.WithLabelValues(state).Observe(elapsedSeconds)
	}
}
