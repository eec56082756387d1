package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// deliveriesSucceeded counts successful activity deliveries per remote host
	deliveriesSucceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mammut_deliveries_succeeded_total",
		Help: "Total number of successful activity deliveries per remote host",
	}, []string{"host"})

	// deliveriesFailed counts failed activity deliveries per remote host
	deliveriesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mammut_deliveries_failed_total",
		Help: "Total number of failed activity deliveries per remote host",
	}, []string{"host"})
)

// Sink feeds delivery outcomes into the Prometheus counters. The zero
// value is ready to use.
type Sink struct{}

func (Sink) DeliverySucceeded(host string) {
	deliveriesSucceeded.WithLabelValues(host).Inc()
}

func (Sink) DeliveryFailed(host string) {
	deliveriesFailed.WithLabelValues(host).Inc()
}

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
