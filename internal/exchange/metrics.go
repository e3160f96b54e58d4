package exchange

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the engine's counters on a private registry, so several
// engine instances (one per chain) can run in one process.
type metrics struct {
	registry *prometheus.Registry

	trades   *prometheus.CounterVec
	failures *prometheus.CounterVec
	inbound  *prometheus.CounterVec
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &metrics{
		registry: reg,
		trades: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omnidex",
			Name:      "trades_total",
			Help:      "Settled trades by scope and fill side.",
		}, []string{"scope", "side"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omnidex",
			Name:      "trade_failures_total",
			Help:      "Rejected or failed fills by error kind.",
		}, []string{"kind"}),
		inbound: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omnidex",
			Name:      "inbound_legs_total",
			Help:      "Inbound trade legs by leg kind and outcome.",
		}, []string{"leg", "result"}),
	}
}

// MetricsRegistry exposes the engine's registry for the metrics endpoint.
func (e *Engine) MetricsRegistry() *prometheus.Registry {
	return e.metrics.registry
}
