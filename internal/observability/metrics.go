// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Gateway metrics
	ExecutionsTotal     *prometheus.CounterVec // direction, outcome
	ExecutionAttempts   prometheus.Histogram
	SlippageEscalations prometheus.Counter
	EndpointSwitches    *prometheus.CounterVec // service
	ThrottleWait        prometheus.Histogram
	ConfirmationWait    prometheus.Histogram

	// Engine metrics
	FillsTotal      *prometheus.CounterVec // kind, side
	RealizedProfit  *prometheus.GaugeVec // kind; stop-loss exits subtract
	EvaluationTicks *prometheus.CounterVec // kind, result
	TickDuration    prometheus.Histogram
	TicksSkipped    prometheus.Counter
	ActiveInstances *prometheus.GaugeVec // kind

	// Fee metrics
	FeeCollections *prometheus.CounterVec // status

	// Store metrics
	StoreErrors *prometheus.CounterVec // store
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ExecutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_executions_total",
			Help: "Trade executions by direction and outcome",
		}, []string{"direction", "outcome"}),
		ExecutionAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_execution_attempts",
			Help:    "Attempts consumed per execution",
			Buckets: prometheus.LinearBuckets(1, 1, 8),
		}),
		SlippageEscalations: factory.NewCounter(prometheus.CounterOpts{
			Name: "engine_slippage_escalations_total",
			Help: "Retries that escalated slippage tolerance",
		}),
		EndpointSwitches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_endpoint_switches_total",
			Help: "Endpoint failover switches by service",
		}, []string{"service"}),
		ThrottleWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_throttle_wait_seconds",
			Help:    "Time spent waiting on the outbound throttle gate",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		ConfirmationWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_confirmation_wait_seconds",
			Help:    "Time from submission to confirmation",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
		}),
		FillsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_fills_total",
			Help: "Confirmed fills by instance kind and side",
		}, []string{"kind", "side"}),
		RealizedProfit: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_realized_profit",
			Help: "Cumulative realized profit in quote units",
		}, []string{"kind"}),
		EvaluationTicks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_evaluation_ticks_total",
			Help: "Evaluation ticks by instance kind and result",
		}, []string{"kind", "result"}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_tick_duration_seconds",
			Help:    "Evaluation tick duration",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		TicksSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "engine_ticks_skipped_total",
			Help: "Ticks skipped because an evaluation was still in flight",
		}),
		ActiveInstances: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_active_instances",
			Help: "Currently scheduled instances by kind",
		}, []string{"kind"}),
		FeeCollections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_fee_collections_total",
			Help: "Fee collection outcomes by status",
		}, []string{"status"}),
		StoreErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_store_errors_total",
			Help: "Persistence errors by store",
		}, []string{"store"}),
	}
}

// NewDefaultMetrics creates metrics on the default registry.
func NewDefaultMetrics() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer)
}

// Handler returns an HTTP handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
