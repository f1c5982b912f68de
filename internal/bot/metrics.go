package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments of the booking bot.
type Metrics struct {
	UpdateProcessingTime prometheus.Histogram
	SlotFetches          *prometheus.CounterVec
	HoldsStarted         prometheus.Counter
	HoldsExpired         prometheus.Counter
	BookingsSubmitted    prometheus.Counter
	ErrorsTotal          prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		UpdateProcessingTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "nobat_update_processing_time_seconds",
			Help:    "Time spent processing updates",
			Buckets: prometheus.DefBuckets,
		}),

		SlotFetches: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nobat_slot_fetches_total",
			Help: "Availability fetches by outcome",
		}, []string{"outcome"}),

		HoldsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nobat_holds_started_total",
			Help: "Reservation holds started",
		}),

		HoldsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nobat_holds_expired_total",
			Help: "Reservation holds that expired before confirmation",
		}),

		BookingsSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nobat_bookings_submitted_total",
			Help: "Booking forms submitted to the clinic",
		}),

		ErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "nobat_errors_total",
			Help: "Errors while handling updates",
		}),
	}
}
