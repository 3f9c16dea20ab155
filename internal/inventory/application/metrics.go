package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	reservations  *prometheus.CounterVec
	compensations prometheus.Counter
	violations    prometheus.Counter
	lockWait      prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reservations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "reservation",
			Name:      "attempts_total",
			Help:      "Reservation attempts by outcome.",
		}, []string{"outcome"}),
		compensations: f.NewCounter(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "reservation",
			Name:      "compensations_total",
			Help:      "Positive deltas applied to undo a partial or abandoned reservation.",
		}),
		violations: f.NewCounter(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "reservation",
			Name:      "consistency_violations_total",
			Help:      "Compensations that could not be applied. Any non-zero value needs an operator.",
		}),
		lockWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "booking",
			Subsystem: "reservation",
			Name:      "lock_wait_seconds",
			Help:      "Time spent acquiring per-slot critical sections.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}
}
