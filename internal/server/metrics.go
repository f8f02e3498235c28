package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry          *prometheus.Registry
	depositsTotal     *prometheus.CounterVec
	fundRequestsTotal *prometheus.CounterVec
	completionsTotal  *prometheus.CounterVec
	fulfillmentsTotal *prometheus.CounterVec
	activeLocks       prometheus.Gauge
}

func newMetricsRegistry() *metricsRegistry {
	deposits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cardinal_deposits_total",
		Help: "Total number of escrow deposits",
	}, []string{"status"})

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cardinal_fund_requests_total",
		Help: "Total number of fund requests",
	}, []string{"status"})

	completions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cardinal_completions_total",
		Help: "Total number of transaction completions and cancellations",
	}, []string{"status"})

	fulfillments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cardinal_oracle_fulfillments_total",
		Help: "Oracle fulfillment deliveries by outcome",
	}, []string{"status"})

	locks := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cardinal_active_locks",
		Help: "Number of cards with a release in flight",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(deposits, requests, completions, fulfillments, locks)

	return &metricsRegistry{
		registry:          r,
		depositsTotal:     deposits,
		fundRequestsTotal: requests,
		completionsTotal:  completions,
		fulfillmentsTotal: fulfillments,
		activeLocks:       locks,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incDeposit(status string) {
	m.depositsTotal.WithLabelValues(status).Inc()
}

func (m *metricsRegistry) incRequest(status string) {
	m.fundRequestsTotal.WithLabelValues(status).Inc()
}

func (m *metricsRegistry) incCompletion(status string) {
	m.completionsTotal.WithLabelValues(status).Inc()
}

func (m *metricsRegistry) incFulfillment(status string) {
	m.fulfillmentsTotal.WithLabelValues(status).Inc()
}

func (m *metricsRegistry) lockAcquired() {
	m.activeLocks.Inc()
}

func (m *metricsRegistry) lockReleased() {
	m.activeLocks.Dec()
}
