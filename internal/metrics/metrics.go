package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ServerMetrics struct {
	Checkouts          *prometheus.CounterVec
	SettlementDuration *prometheus.HistogramVec
}

func New(service string) *ServerMetrics {
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Subsystem: service,
		Name:      "checkouts_total",
		Help:      "Total number of checkout attempts by path and outcome.",
	}, []string{"path", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "storefront",
		Subsystem: service,
		Name:      "settlement_duration_seconds",
		Help:      "Settlement operation latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"path"})

	prometheus.MustRegister(checkouts, duration)
	return &ServerMetrics{Checkouts: checkouts, SettlementDuration: duration}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
