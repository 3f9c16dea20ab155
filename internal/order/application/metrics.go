package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	orders *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		orders: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "orders",
			Name:      "placed_total",
			Help:      "Order placement attempts by result.",
		}, []string{"result"}),
	}
}
