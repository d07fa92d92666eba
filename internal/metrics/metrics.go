package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	FiringsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportbot_firings_total",
			Help: "Total number of task firings by outcome.",
		},
		[]string{"outcome"}, // success, refresh_failed, validate_failed, error, panic
	)

	CapturesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportbot_captures_total",
			Help: "Total number of region captures by status.",
		},
		[]string{"status"}, // ok, failed
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportbot_deliveries_total",
			Help: "Total number of webhook deliveries by kind and status.",
		},
		[]string{"kind", "status"}, // kind: image, file, text
	)

	DeliveryRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reportbot_delivery_retries_total",
			Help: "Total number of webhook delivery retries.",
		},
	)

	ValidationAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reportbot_validation_attempts_total",
			Help: "Total number of freshness-indicator read attempts.",
		},
	)

	FiringDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reportbot_firing_duration_seconds",
			Help:    "Wall-clock duration of one task firing.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		FiringsTotal,
		CapturesTotal,
		DeliveriesTotal,
		DeliveryRetriesTotal,
		ValidationAttemptsTotal,
		FiringDuration,
	)
}

// RecordFiring increments the firing counter and observes its duration.
func RecordFiring(outcome string, seconds float64) {
	FiringsTotal.WithLabelValues(outcome).Inc()
	FiringDuration.Observe(seconds)
}

// RecordCapture increments the capture counter for one region.
func RecordCapture(status string) {
	CapturesTotal.WithLabelValues(status).Inc()
}

// RecordDelivery increments the delivery counter for one send.
func RecordDelivery(kind, status string) {
	DeliveriesTotal.WithLabelValues(kind, status).Inc()
}
